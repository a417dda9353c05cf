package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// Registry wires Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the registry. extraChecks are reported alongside the Firestore probe.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 3 * time.Second,
		Check:   provider.Ping,
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, health: health}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn directly. Order writes open their own Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
