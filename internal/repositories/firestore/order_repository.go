// Package firestore persists order aggregates in Cloud Firestore.
//
// Orders live in the "orders" collection keyed by order id. Order numbers are
// reserved in "orderNumbers" with a create-only write in the same transaction
// as the order, which makes number uniqueness a storage guarantee.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orderledger/internal/domain"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/platform/pagination"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"

	// Version conflicts surface from the callback and are never retried.
	orderTxAttempts = 3
	orderTxTimeout  = 10 * time.Second
)

var orderTxOptions = []pfirestore.TxOption{
	pfirestore.WithTxAttempts(orderTxAttempts),
	pfirestore.WithTxTimeout(orderTxTimeout),
}

// OrderRepository implements repositories.OrderRepository on Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[domain.Order, orderDocument]
	numbers  *pfirestore.Collection[orderNumberDocument, orderNumberDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders: pfirestore.NewCollection(provider, ordersCollection, pfirestore.Codec[domain.Order, orderDocument]{
			Encode: encodeOrder,
			Decode: decodeOrder,
		}),
		numbers: pfirestore.NewCollection(provider, orderNumbersCollection, pfirestore.Codec[orderNumberDocument, orderNumberDocument]{
			Encode: func(doc orderNumberDocument) orderNumberDocument { return doc },
			Decode: func(_ string, doc orderNumberDocument) (orderNumberDocument, error) { return doc, nil },
		}),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	numberRef, err := r.numbers.Doc(ctx, order.OrderNumber)
	if err != nil {
		return err
	}

	order.Version = 1
	doc := r.orders.Encode(order)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: order.ID, CreatedAt: order.CreatedAt}); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	}, orderTxOptions...)
	return classifyInsert(order, err)
}

func classifyInsert(order domain.Order, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *repositories.Error
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return repositories.NewConflictError("orders.insert",
			fmt.Errorf("order %s or number %s already exists: %w", order.ID, order.OrderNumber, repoErr.Err))
	}
	return err
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	ref, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current, err := r.orders.GetTx(tx, ref)
		if err != nil {
			return err
		}
		if current.Version != order.Version {
			return repositories.NewConflictError("orders.update",
				fmt.Errorf("order %s version %d, expected %d", order.ID, current.Version, order.Version))
		}
		if current.OrderNumber != order.OrderNumber {
			return repositories.NewConflictError("orders.update", errors.New("order number is immutable"))
		}
		next := order
		next.Version = order.Version + 1
		return tx.Set(ref, r.orders.Encode(next))
	}, orderTxOptions...)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.orders.Get(ctx, orderID)
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	entry, err := r.numbers.Get(ctx, orderNumber)
	if err != nil {
		return domain.Order{}, err
	}
	return r.orders.Get(ctx, entry.OrderID)
}

func (r *OrderRepository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	_, err := r.numbers.Get(ctx, orderNumber)
	switch {
	case err == nil:
		return true, nil
	case pfirestore.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// List pages through orders newest first. Store, customer and order status
// filters run in Firestore; payment and fulfillment status filters are applied
// while scanning because Firestore allows a single disjunction per query.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Clamp(filter.Pagination.PageSize)

	var matched []domain.Order
	scan := cursor
	for len(matched) <= size {
		batch, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
			return buildListQuery(q, filter, scan, size+1)
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		for _, order := range batch {
			if matchesScanFilters(order, filter) {
				matched = append(matched, order)
			}
		}
		if len(batch) <= size {
			break
		}
		last := batch[len(batch)-1]
		scan = pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		last := matched[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = matched[:size]
		page.NextPageToken = token
	}
	return page, nil
}

func buildListQuery(q firestore.Query, filter repositories.OrderListFilter, cursor pagination.Cursor, limit int) firestore.Query {
	if storeID := strings.TrimSpace(filter.StoreID); storeID != "" {
		q = q.Where("storeId", "==", storeID)
	}
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		q = q.Where("customerId", "==", customerID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		q = q.Where("status", "in", statuses)
	}
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc)
	if !cursor.IsZero() {
		q = q.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	return q.Limit(limit)
}

func matchesScanFilters(order domain.Order, filter repositories.OrderListFilter) bool {
	if len(filter.PaymentStatus) > 0 && !slices.Contains(filter.PaymentStatus, order.PaymentStatus) {
		return false
	}
	if len(filter.FulfillmentStatus) > 0 && !slices.Contains(filter.FulfillmentStatus, order.FulfillmentStatus) {
		return false
	}
	return true
}
