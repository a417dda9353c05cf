package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the order-level lifecycle status.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// Terminal reports whether no further fulfillment work may happen for the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// PaymentStatus tracks the money side of an order.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusAuthorized        PaymentStatus = "authorized"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusPartiallyPaid     PaymentStatus = "partially_paid"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusVoided            PaymentStatus = "voided"
)

// FulfillmentStatus is derived from the fulfillment sub-ledger.
type FulfillmentStatus string

const (
	FulfillmentStatusUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentStatusPartial     FulfillmentStatus = "partial"
	FulfillmentStatusFulfilled   FulfillmentStatus = "fulfilled"
	FulfillmentStatusRestocked   FulfillmentStatus = "restocked"
)

// ShipmentStatus is the state of a single fulfillment record.
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusOpen      ShipmentStatus = "open"
	ShipmentStatusSuccess   ShipmentStatus = "success"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
	ShipmentStatusError     ShipmentStatus = "error"
)

// Order is the root aggregate owning the line item, fulfillment and refund ledgers.
// Subtotal, Total, RefundTotal and FulfillmentStatus are always produced by Derive.
type Order struct {
	ID           string
	OrderNumber  string
	StoreID      string
	CustomerID   string
	Email        string
	CustomerName string
	Phone        string

	Items []LineItem

	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Shipping    decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	RefundTotal decimal.Decimal
	Currency    string

	ShippingAddress *Address
	BillingAddress  *Address

	Status            OrderStatus
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus

	Fulfillments []Fulfillment
	Refunds      []Refund

	Note         string
	CustomerNote string

	CancelledAt  *time.Time
	CancelReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	// Version is the optimistic concurrency token checked by the repository on update.
	Version int64
}

// LineItem is a purchased product snapshot captured at order time.
type LineItem struct {
	ID             string
	ProductID      string
	VariantID      *string
	Name           string
	SKU            string
	VariantTitle   string
	Image          string
	Quantity       int
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	Total          decimal.Decimal
}

// Fulfillment records a shipment of some or all of the order's items.
type Fulfillment struct {
	ID                  string
	Status              ShipmentStatus
	TrackingCompany     string
	TrackingNumber      string
	TrackingURL         string
	ShippedAt           *time.Time
	EstimatedDeliveryAt *time.Time
	Items               []FulfillmentItem
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// FulfillmentItem references a line item and the quantity shipped by a fulfillment.
type FulfillmentItem struct {
	ItemID   string
	Quantity int
}

// Refund records money returned to the customer.
type Refund struct {
	ID        string
	Amount    decimal.Decimal
	Reason    string
	Items     []RefundItem
	CreatedAt time.Time
}

// RefundItem optionally ties part of a refund to a line item.
type RefundItem struct {
	ItemID   string
	Quantity int
	Amount   decimal.Decimal
}

// Address is an opaque postal address carried on the order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// TotalQuantity sums the quantity across all line items.
func (o Order) TotalQuantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// Balance returns the amount still refundable.
func (o Order) Balance() decimal.Decimal {
	return o.Total.Sub(o.RefundTotal)
}

// FindFulfillment returns the index of the fulfillment with the given id, or -1.
func (o Order) FindFulfillment(id string) int {
	for i, f := range o.Fulfillments {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// FindItem returns the index of the line item with the given id, or -1.
func (o Order) FindItem(id string) int {
	for i, item := range o.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without aliasing slices.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]LineItem, len(o.Items))
		for i, item := range o.Items {
			item.VariantID = cloneString(item.VariantID)
			if item.CompareAtPrice != nil {
				v := *item.CompareAtPrice
				item.CompareAtPrice = &v
			}
			out.Items[i] = item
		}
	}
	if o.Fulfillments != nil {
		out.Fulfillments = make([]Fulfillment, len(o.Fulfillments))
		for i, f := range o.Fulfillments {
			f.Items = append([]FulfillmentItem(nil), f.Items...)
			f.ShippedAt = cloneTime(f.ShippedAt)
			f.EstimatedDeliveryAt = cloneTime(f.EstimatedDeliveryAt)
			out.Fulfillments[i] = f
		}
	}
	if o.Refunds != nil {
		out.Refunds = make([]Refund, len(o.Refunds))
		for i, r := range o.Refunds {
			r.Items = append([]RefundItem(nil), r.Items...)
			out.Refunds[i] = r
		}
	}
	out.ShippingAddress = o.ShippingAddress.clone()
	out.BillingAddress = o.BillingAddress.clone()
	out.CancelledAt = cloneTime(o.CancelledAt)
	out.CancelReason = cloneString(o.CancelReason)
	out.ClosedAt = cloneTime(o.ClosedAt)
	return out
}

func (a *Address) clone() *Address {
	if a == nil {
		return nil
	}
	out := *a
	out.Line2 = cloneString(a.Line2)
	out.State = cloneString(a.State)
	out.Phone = cloneString(a.Phone)
	return &out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

// Pagination carries list paging parameters.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps one page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
