package memory

import (
	"context"

	"github.com/hanko-field/orderledger/internal/repositories"
)

// Registry serves repositories from process memory.
type Registry struct {
	UnitOfWork
	orders *OrderRepository
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry returns an empty in-memory registry. checks feed the health report.
func NewRegistry(checks ...repositories.DependencyCheck) (*Registry, error) {
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{orders: NewOrderRepository(), health: health}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

func (r *Registry) Close(context.Context) error { return nil }
