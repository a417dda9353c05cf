package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	LineItem           = domain.LineItem
	Fulfillment        = domain.Fulfillment
	FulfillmentItem    = domain.FulfillmentItem
	Refund             = domain.Refund
	RefundItem         = domain.RefundItem
	Address            = domain.Address
	Tracking           = domain.Tracking
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// OrderService owns the order aggregate lifecycle. Every mutation loads the
// aggregate, applies a guarded operation, derives totals and statuses, then
// persists with an optimistic version check.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	AddFulfillment(ctx context.Context, cmd AddFulfillmentCommand) (Order, error)
	MarkFulfilled(ctx context.Context, cmd MarkFulfilledCommand) (Order, error)
	AddRefund(ctx context.Context, cmd AddRefundCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// SystemService exposes operational metadata such as dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand carries the data collaborators supply to open an order.
type CreateOrderCommand struct {
	StoreID         string
	CustomerID      string
	Email           string
	CustomerName    string
	Phone           string
	Items           []CreateOrderItem
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Discount        decimal.Decimal
	Currency        string
	ShippingAddress *Address
	BillingAddress  *Address
	Note            string
	CustomerNote    string
}

// CreateOrderItem is a line item snapshot. Total, when set, overrides price*quantity.
type CreateOrderItem struct {
	ProductID      string
	VariantID      *string
	Name           string
	SKU            string
	VariantTitle   string
	Image          string
	Quantity       int
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	Total          *decimal.Decimal
}

// AddFulfillmentCommand appends a shipment record to an order.
type AddFulfillmentCommand struct {
	OrderID             string
	TrackingCompany     string
	TrackingNumber      string
	TrackingURL         string
	EstimatedDeliveryAt *time.Time
	Items               []FulfillmentItem
}

// MarkFulfilledCommand flags a fulfillment as shipped.
type MarkFulfilledCommand struct {
	OrderID       string
	FulfillmentID string
	Tracking      *Tracking
}

// AddRefundCommand records money returned on an order.
type AddRefundCommand struct {
	OrderID string
	Amount  decimal.Decimal
	Reason  string
	Items   []RefundItem
}

// CancelOrderCommand cancels an order with an optional reason.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
}
