package repositories

import (
	"context"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates.
//
// Insert must reject a duplicate order number with a conflict error; this is the
// authoritative uniqueness guarantee behind the order number allocator.
// Update succeeds only when the stored version equals order.Version and stores
// order.Version+1; otherwise it returns a conflict error.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// HealthRepository reports the state of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings. Empty fields match everything.
type OrderListFilter struct {
	StoreID           string
	CustomerID        string
	Status            []domain.OrderStatus
	PaymentStatus     []domain.PaymentStatus
	FulfillmentStatus []domain.FulfillmentStatus
	Pagination        domain.Pagination
}
