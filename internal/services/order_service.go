package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/textutil"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// Order event types.
const (
	OrderEventCreated          = "order.created"
	OrderEventFulfillmentAdded = "order.fulfillment_added"
	OrderEventFulfilled        = "order.fulfilled"
	OrderEventRefunded         = "order.refunded"
	OrderEventCancelled        = "order.cancelled"
)

const (
	orderIDPrefix       = "ord_"
	lineItemIDPrefix    = "li_"
	fulfillmentIDPrefix = "ful_"
	refundIDPrefix      = "ref_"

	maxNoteLength = 2000
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = domain.ErrInvalidOrder
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a concurrent write or a duplicate order number.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store could not serve the request.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the notification payload emitted after a successful mutation.
type OrderEvent struct {
	Type              string
	OrderID           string
	OrderNumber       string
	StoreID           string
	CustomerName      string
	Email             string
	Total             string
	Currency          string
	Status            string
	PaymentStatus     string
	FulfillmentStatus string
	Items             []OrderEventItem
	FulfillmentID     string
	Tracking          *Tracking
	RefundID          string
	RefundAmount      string
	Reason            string
	OccurredAt        time.Time
}

// OrderEventItem summarises a line item for notification templates.
type OrderEventItem struct {
	Name     string
	SKU      string
	Quantity int
	Total    string
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders              repositories.OrderRepository
	Allocator           *OrderNumberAllocator
	OrderNumberAttempts int
	UnitOfWork          repositories.UnitOfWork
	Clock               func() time.Time
	IDGenerator         func() string
	Events              OrderEventPublisher
	Logger              func(ctx context.Context, event string, fields map[string]any)
	Tracer              trace.Tracer
	Meter               metric.Meter
}

type orderService struct {
	orders     repositories.OrderRepository
	allocator  *OrderNumberAllocator
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	tracer     trace.Tracer
	metrics    ledgerMetrics
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	svc := &orderService{
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		logger:  logger,
		tracer:  tracer,
		metrics: newLedgerMetrics(deps.Meter),
	}

	allocator := deps.Allocator
	if allocator == nil {
		var err error
		allocator, err = NewOrderNumberAllocator(deps.Orders,
			WithMaxAttempts(deps.OrderNumberAttempts),
			WithAttemptObserver(svc.metrics.recordAllocation),
		)
		if err != nil {
			return nil, err
		}
	}
	svc.allocator = allocator

	return svc, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.String("store.id", cmd.StoreID)))
	defer func() { endSpan(span, err) }()

	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	now := s.now()
	number, err := s.allocator.Allocate(ctx, now)
	if err != nil {
		if errors.Is(err, ErrAllocationExhausted) {
			s.logger(ctx, "order.number.exhausted", map[string]any{"store": cmd.StoreID})
			return Order{}, err
		}
		return Order{}, s.mapRepositoryError(err)
	}

	items := make([]domain.LineItemInput, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, domain.LineItemInput{
			ID:             lineItemIDPrefix + s.newID(),
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Name:           textutil.PlainText(item.Name),
			SKU:            item.SKU,
			VariantTitle:   textutil.PlainText(item.VariantTitle),
			Image:          item.Image,
			Quantity:       item.Quantity,
			Price:          item.Price,
			CompareAtPrice: item.CompareAtPrice,
			Total:          item.Total,
		})
	}

	order, err = domain.NewOrder(domain.NewOrderParams{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     number,
		StoreID:         cmd.StoreID,
		CustomerID:      cmd.CustomerID,
		Email:           cmd.Email,
		CustomerName:    textutil.PlainText(cmd.CustomerName),
		Phone:           cmd.Phone,
		Items:           items,
		Tax:             cmd.Tax,
		Shipping:        cmd.Shipping,
		Discount:        cmd.Discount,
		Currency:        cmd.Currency,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		Note:            sanitizeNote(cmd.Note),
		CustomerNote:    sanitizeNote(cmd.CustomerNote),
	}, now)
	if err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	order.Version = 1

	addCount(ctx, s.metrics.ordersCreated, attribute.String("currency", order.Currency))
	s.publishEvent(ctx, s.newEvent(OrderEventCreated, order, now))
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) AddFulfillment(ctx context.Context, cmd AddFulfillmentCommand) (Order, error) {
	var added Fulfillment
	order, err := s.mutate(ctx, "OrderService.AddFulfillment", cmd.OrderID, func(order *Order, now time.Time) error {
		var err error
		added, err = order.AddFulfillment(fulfillmentIDPrefix+s.newID(), domain.FulfillmentInput{
			TrackingCompany:     textutil.PlainText(cmd.TrackingCompany),
			TrackingNumber:      textutil.PlainText(cmd.TrackingNumber),
			TrackingURL:         strings.TrimSpace(cmd.TrackingURL),
			EstimatedDeliveryAt: cmd.EstimatedDeliveryAt,
			Items:               cmd.Items,
		}, now)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	addCount(ctx, s.metrics.fulfillmentsAdded)
	event := s.newEvent(OrderEventFulfillmentAdded, order, order.UpdatedAt)
	event.FulfillmentID = added.ID
	s.publishEvent(ctx, event)
	return order, nil
}

func (s *orderService) MarkFulfilled(ctx context.Context, cmd MarkFulfilledCommand) (Order, error) {
	fulfillmentID := strings.TrimSpace(cmd.FulfillmentID)
	if fulfillmentID == "" {
		return Order{}, fmt.Errorf("%w: fulfillment id is required", ErrOrderInvalidInput)
	}

	var tracking *Tracking
	if cmd.Tracking != nil {
		tracking = &Tracking{
			Company: textutil.PlainText(cmd.Tracking.Company),
			Number:  textutil.PlainText(cmd.Tracking.Number),
			URL:     strings.TrimSpace(cmd.Tracking.URL),
		}
	}

	var shipped Fulfillment
	order, err := s.mutate(ctx, "OrderService.MarkFulfilled", cmd.OrderID, func(order *Order, now time.Time) error {
		var err error
		shipped, err = order.MarkFulfilled(fulfillmentID, tracking, now)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	addCount(ctx, s.metrics.fulfillmentsMarked)
	event := s.newEvent(OrderEventFulfilled, order, order.UpdatedAt)
	event.FulfillmentID = shipped.ID
	event.Tracking = &Tracking{Company: shipped.TrackingCompany, Number: shipped.TrackingNumber, URL: shipped.TrackingURL}
	s.publishEvent(ctx, event)
	return order, nil
}

func (s *orderService) AddRefund(ctx context.Context, cmd AddRefundCommand) (Order, error) {
	var refund Refund
	order, err := s.mutate(ctx, "OrderService.AddRefund", cmd.OrderID, func(order *Order, now time.Time) error {
		var err error
		refund, err = order.AddRefund(refundIDPrefix+s.newID(), domain.RefundInput{
			Amount: cmd.Amount,
			Reason: sanitizeNote(cmd.Reason),
			Items:  cmd.Items,
		}, now)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.recordRefund(ctx, refund.Amount.InexactFloat64(), order.Currency)
	event := s.newEvent(OrderEventRefunded, order, refund.CreatedAt)
	event.RefundID = refund.ID
	event.RefundAmount = refund.Amount.String()
	event.Reason = refund.Reason
	s.publishEvent(ctx, event)
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	reason := sanitizeNote(cmd.Reason)
	order, err := s.mutate(ctx, "OrderService.Cancel", cmd.OrderID, func(order *Order, now time.Time) error {
		return order.Cancel(reason, now)
	})
	if err != nil {
		return Order{}, err
	}

	addCount(ctx, s.metrics.cancellations)
	event := s.newEvent(OrderEventCancelled, order, order.UpdatedAt)
	event.Reason = reason
	s.publishEvent(ctx, event)
	return order, nil
}

// mutate runs one guarded read-modify-write on the aggregate. The operation
// works on a copy, so a failed guard leaves nothing to persist.
func (s *orderService) mutate(ctx context.Context, spanName, orderID string, apply func(*Order, time.Time) error) (order Order, err error) {
	orderID = strings.TrimSpace(orderID)
	ctx, span := s.tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		working := current.Clone()
		if err := apply(&working, s.now()); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, working); err != nil {
			return s.mapRepositoryError(err)
		}
		working.Version++
		order = working
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) newEvent(eventType string, order Order, at time.Time) OrderEvent {
	items := make([]OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderEventItem{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Total:    item.Total.String(),
		})
	}
	return OrderEvent{
		Type:              eventType,
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		StoreID:           order.StoreID,
		CustomerName:      order.CustomerName,
		Email:             order.Email,
		Total:             order.Total.String(),
		Currency:          order.Currency,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		FulfillmentStatus: string(order.FulfillmentStatus),
		Items:             items,
		OccurredAt:        at,
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func sanitizeNote(value string) string {
	return textutil.Truncate(textutil.PlainText(value), maxNoteLength)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
