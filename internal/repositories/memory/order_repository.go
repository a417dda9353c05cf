// Package memory keeps order aggregates in process memory. It backs local
// development and tests and enforces the same uniqueness and version rules as
// the Firestore repository.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/pagination"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// OrderRepository is a concurrency-safe in-memory repositories.OrderRepository.
type OrderRepository struct {
	mu       sync.RWMutex
	byID     map[string]domain.Order
	byNumber map[string]string
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository returns an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		byID:     make(map[string]domain.Order),
		byNumber: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[order.ID]; exists {
		return repositories.NewConflictError("orders.insert", fmt.Errorf("order %s already exists", order.ID))
	}
	if _, exists := r.byNumber[order.OrderNumber]; exists {
		return repositories.NewConflictError("orders.insert", fmt.Errorf("order number %s already allocated", order.OrderNumber))
	}
	stored := order.Clone()
	stored.Version = 1
	r.byID[order.ID] = stored
	r.byNumber[order.OrderNumber] = order.ID
	return nil
}

func (r *OrderRepository) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[order.ID]
	if !ok {
		return repositories.NewNotFoundError("orders.update", fmt.Errorf("order %s", order.ID))
	}
	if current.Version != order.Version {
		return repositories.NewConflictError("orders.update",
			fmt.Errorf("order %s version %d, expected %d", order.ID, current.Version, order.Version))
	}
	if current.OrderNumber != order.OrderNumber {
		return repositories.NewConflictError("orders.update", fmt.Errorf("order number is immutable"))
	}
	stored := order.Clone()
	stored.Version = order.Version + 1
	r.byID[order.ID] = stored
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.byID[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", fmt.Errorf("order %s", orderID))
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByOrderNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[orderNumber]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get_by_number", fmt.Errorf("order number %s", orderNumber))
	}
	return r.byID[id].Clone(), nil
}

func (r *OrderRepository) OrderNumberExists(_ context.Context, orderNumber string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byNumber[orderNumber]
	return ok, nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Clamp(filter.Pagination.PageSize)

	r.mu.RLock()
	matched := make([]domain.Order, 0, len(r.byID))
	for _, order := range r.byID {
		if matches(order, filter) && cursor.After(order.CreatedAt, order.ID) {
			matched = append(matched, order)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	page := domain.CursorPage[domain.Order]{}
	if len(matched) > size {
		last := matched[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		matched = matched[:size]
	}
	page.Items = make([]domain.Order, len(matched))
	for i, order := range matched {
		page.Items[i] = order.Clone()
	}
	return page, nil
}

func matches(order domain.Order, filter repositories.OrderListFilter) bool {
	if filter.StoreID != "" && order.StoreID != filter.StoreID {
		return false
	}
	if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
		return false
	}
	if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
		return false
	}
	if len(filter.PaymentStatus) > 0 && !slices.Contains(filter.PaymentStatus, order.PaymentStatus) {
		return false
	}
	if len(filter.FulfillmentStatus) > 0 && !slices.Contains(filter.FulfillmentStatus, order.FulfillmentStatus) {
		return false
	}
	return true
}

// UnitOfWork runs callbacks directly. Each repository call is already atomic.
type UnitOfWork struct{}

func (UnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
