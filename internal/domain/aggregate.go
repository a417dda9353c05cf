package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NewOrderParams carries everything needed to open an order. Identifiers are
// assigned by the caller.
type NewOrderParams struct {
	ID              string
	OrderNumber     string
	StoreID         string
	CustomerID      string
	Email           string
	CustomerName    string
	Phone           string
	Items           []LineItemInput
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Discount        decimal.Decimal
	Currency        string
	ShippingAddress *Address
	BillingAddress  *Address
	Note            string
	CustomerNote    string
}

// LineItemInput describes one purchased item. Total overrides price*quantity when set.
type LineItemInput struct {
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
	Total          *decimal.Decimal
}

// FulfillmentInput describes a new shipment.
type FulfillmentInput struct {
	TrackingCompany     string
	TrackingNumber      string
	TrackingURL         string
	EstimatedDeliveryAt *time.Time
	Items               []FulfillmentItem
}

// Tracking holds carrier metadata copied onto a fulfillment when it ships.
type Tracking struct {
	Company string
	Number  string
	URL     string
}

// RefundInput describes money being returned.
type RefundInput struct {
	Amount decimal.Decimal
	Reason string
	Items  []RefundItem
}

// NewOrder validates params and returns a derived order in its initial state.
func NewOrder(params NewOrderParams, now time.Time) (Order, error) {
	if strings.TrimSpace(params.ID) == "" {
		return Order{}, fmt.Errorf("%w: id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(params.OrderNumber) == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(params.StoreID) == "" {
		return Order{}, fmt.Errorf("%w: store id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(params.Email) == "" {
		return Order{}, fmt.Errorf("%w: email is required", ErrInvalidOrder)
	}
	if len(params.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	currency, err := NormalizeCurrency(params.Currency)
	if err != nil {
		return Order{}, err
	}
	for name, amount := range map[string]decimal.Decimal{
		"tax":      params.Tax,
		"shipping": params.Shipping,
		"discount": params.Discount,
	} {
		if amount.IsNegative() {
			return Order{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidOrder, name)
		}
	}

	items := make([]LineItem, 0, len(params.Items))
	seen := make(map[string]struct{}, len(params.Items))
	for i, in := range params.Items {
		item, err := newLineItem(in)
		if err != nil {
			return Order{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		if _, dup := seen[item.ID]; dup {
			return Order{}, fmt.Errorf("%w: duplicate item id %q", ErrInvalidOrder, item.ID)
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}

	order := Order{
		ID:                strings.TrimSpace(params.ID),
		OrderNumber:       strings.TrimSpace(params.OrderNumber),
		StoreID:           strings.TrimSpace(params.StoreID),
		CustomerID:        strings.TrimSpace(params.CustomerID),
		Email:             strings.TrimSpace(params.Email),
		CustomerName:      strings.TrimSpace(params.CustomerName),
		Phone:             strings.TrimSpace(params.Phone),
		Items:             items,
		Tax:               params.Tax,
		Shipping:          params.Shipping,
		Discount:          params.Discount,
		Currency:          currency,
		ShippingAddress:   params.ShippingAddress.clone(),
		BillingAddress:    params.BillingAddress.clone(),
		Status:            OrderStatusPending,
		PaymentStatus:     PaymentStatusPending,
		FulfillmentStatus: FulfillmentStatusUnfulfilled,
		Note:              params.Note,
		CustomerNote:      params.CustomerNote,
		CreatedAt:         now,
	}
	order = Derive(order, now)
	if order.Total.IsNegative() {
		return Order{}, fmt.Errorf("%w: discount exceeds order value", ErrInvalidOrder)
	}
	return order, nil
}

func newLineItem(in LineItemInput) (LineItem, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return LineItem{}, fmt.Errorf("%w: item id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return LineItem{}, fmt.Errorf("%w: product id is required", ErrInvalidOrder)
	}
	if in.Quantity <= 0 {
		return LineItem{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if in.Price.IsNegative() {
		return LineItem{}, fmt.Errorf("%w: price must not be negative", ErrInvalidOrder)
	}
	total := in.Price.Mul(decimal.NewFromInt(int64(in.Quantity)))
	if in.Total != nil {
		if in.Total.IsNegative() {
			return LineItem{}, fmt.Errorf("%w: total must not be negative", ErrInvalidOrder)
		}
		total = *in.Total
	}
	item := LineItem{
		ID:           id,
		ProductID:    strings.TrimSpace(in.ProductID),
		VariantID:    cloneString(in.VariantID),
		Name:         strings.TrimSpace(in.Name),
		SKU:          strings.TrimSpace(in.SKU),
		VariantTitle: strings.TrimSpace(in.VariantTitle),
		Image:        strings.TrimSpace(in.Image),
		Quantity:     in.Quantity,
		Price:        in.Price,
		Total:        total,
	}
	if in.CompareAtPrice != nil {
		v := *in.CompareAtPrice
		item.CompareAtPrice = &v
	}
	return item, nil
}

// AddFulfillment appends an open fulfillment. Closed orders and shipments
// exceeding the unshipped quantity of a line item are rejected.
func (o *Order) AddFulfillment(id string, input FulfillmentInput, now time.Time) (Fulfillment, error) {
	if o.Status.Terminal() {
		return Fulfillment{}, fmt.Errorf("%w: status %s", ErrOrderClosed, o.Status)
	}
	if strings.TrimSpace(id) == "" {
		return Fulfillment{}, fmt.Errorf("%w: fulfillment id is required", ErrInvalidOrder)
	}
	if len(input.Items) == 0 {
		return Fulfillment{}, fmt.Errorf("%w: fulfillment requires at least one item", ErrInvalidOrder)
	}

	requested := make(map[string]int, len(input.Items))
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return Fulfillment{}, fmt.Errorf("%w: fulfillment quantity must be positive", ErrInvalidOrder)
		}
		if o.FindItem(item.ItemID) < 0 {
			return Fulfillment{}, fmt.Errorf("%w: %s", ErrLineItemNotFound, item.ItemID)
		}
		requested[item.ItemID] += item.Quantity
	}
	committed := o.committedQuantities()
	for itemID, qty := range requested {
		ordered := o.Items[o.FindItem(itemID)].Quantity
		if committed[itemID]+qty > ordered {
			return Fulfillment{}, fmt.Errorf("%w: item %s ordered %d, already committed %d, requested %d",
				ErrFulfillmentExceedsQuantity, itemID, ordered, committed[itemID], qty)
		}
	}

	fulfillment := Fulfillment{
		ID:                  strings.TrimSpace(id),
		Status:              ShipmentStatusOpen,
		TrackingCompany:     strings.TrimSpace(input.TrackingCompany),
		TrackingNumber:      strings.TrimSpace(input.TrackingNumber),
		TrackingURL:         strings.TrimSpace(input.TrackingURL),
		EstimatedDeliveryAt: cloneTime(input.EstimatedDeliveryAt),
		Items:               append([]FulfillmentItem(nil), input.Items...),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	fulfillments := make([]Fulfillment, 0, len(o.Fulfillments)+1)
	fulfillments = append(fulfillments, o.Fulfillments...)
	o.Fulfillments = append(fulfillments, fulfillment)
	*o = Derive(*o, now)
	return fulfillment, nil
}

// committedQuantities counts units per line item on fulfillments that are still live.
func (o Order) committedQuantities() map[string]int {
	committed := make(map[string]int, len(o.Items))
	for _, f := range o.Fulfillments {
		if f.Status == ShipmentStatusCancelled || f.Status == ShipmentStatusError {
			continue
		}
		for _, item := range f.Items {
			committed[item.ItemID] += item.Quantity
		}
	}
	return committed
}

// refundedQuantities counts units per line item across recorded refunds.
func (o Order) refundedQuantities() map[string]int {
	refunded := make(map[string]int, len(o.Items))
	for _, r := range o.Refunds {
		for _, item := range r.Items {
			refunded[item.ItemID] += item.Quantity
		}
	}
	return refunded
}

// MarkFulfilled flags a fulfillment as shipped now, copying any tracking fields provided.
func (o *Order) MarkFulfilled(fulfillmentID string, tracking *Tracking, now time.Time) (Fulfillment, error) {
	idx := o.FindFulfillment(strings.TrimSpace(fulfillmentID))
	if idx < 0 {
		return Fulfillment{}, fmt.Errorf("%w: %s", ErrFulfillmentNotFound, fulfillmentID)
	}

	fulfillments := append([]Fulfillment(nil), o.Fulfillments...)
	f := fulfillments[idx]
	shipped := now
	f.Status = ShipmentStatusSuccess
	f.ShippedAt = &shipped
	f.UpdatedAt = now
	if tracking != nil {
		if v := strings.TrimSpace(tracking.Company); v != "" {
			f.TrackingCompany = v
		}
		if v := strings.TrimSpace(tracking.Number); v != "" {
			f.TrackingNumber = v
		}
		if v := strings.TrimSpace(tracking.URL); v != "" {
			f.TrackingURL = v
		}
	}
	fulfillments[idx] = f
	o.Fulfillments = fulfillments
	*o = Derive(*o, now)
	return f, nil
}

// AddRefund appends a refund. Refunds may not sum past the order total, refund
// items may not sum past the refund amount, and no line item may be refunded
// for more units than were ordered.
func (o *Order) AddRefund(id string, input RefundInput, now time.Time) (Refund, error) {
	if strings.TrimSpace(id) == "" {
		return Refund{}, fmt.Errorf("%w: refund id is required", ErrInvalidOrder)
	}
	if !input.Amount.IsPositive() {
		return Refund{}, fmt.Errorf("%w: refund amount must be positive", ErrInvalidOrder)
	}
	requested := make(map[string]int, len(input.Items))
	itemsAmount := decimal.Zero
	for _, item := range input.Items {
		if o.FindItem(item.ItemID) < 0 {
			return Refund{}, fmt.Errorf("%w: %s", ErrLineItemNotFound, item.ItemID)
		}
		if item.Quantity < 0 || item.Amount.IsNegative() {
			return Refund{}, fmt.Errorf("%w: refund item values must not be negative", ErrInvalidOrder)
		}
		requested[item.ItemID] += item.Quantity
		itemsAmount = itemsAmount.Add(item.Amount)
	}
	if itemsAmount.GreaterThan(input.Amount) {
		return Refund{}, fmt.Errorf("%w: refund items sum to %s, more than the refund amount %s",
			ErrInvalidOrder, itemsAmount.StringFixed(2), input.Amount.StringFixed(2))
	}
	refundedQty := o.refundedQuantities()
	for itemID, qty := range requested {
		ordered := o.Items[o.FindItem(itemID)].Quantity
		if refundedQty[itemID]+qty > ordered {
			return Refund{}, fmt.Errorf("%w: item %s ordered %d, already refunded %d, requested %d",
				ErrInvalidOrder, itemID, ordered, refundedQty[itemID], qty)
		}
	}
	refunded := sumRefunds(o.Refunds)
	if refunded.Add(input.Amount).GreaterThan(o.Total) {
		return Refund{}, fmt.Errorf("%w: balance %s, requested %s",
			ErrRefundExceedsBalance, o.Total.Sub(refunded).StringFixed(2), input.Amount.StringFixed(2))
	}

	refund := Refund{
		ID:        strings.TrimSpace(id),
		Amount:    input.Amount,
		Reason:    strings.TrimSpace(input.Reason),
		Items:     append([]RefundItem(nil), input.Items...),
		CreatedAt: now,
	}
	refunds := make([]Refund, 0, len(o.Refunds)+1)
	refunds = append(refunds, o.Refunds...)
	o.Refunds = append(refunds, refund)
	*o = Derive(*o, now)
	return refund, nil
}

// Cancel moves the order to cancelled. Payment and refund state are left alone.
func (o *Order) Cancel(reason string, now time.Time) error {
	if o.Status == OrderStatusCancelled {
		return ErrAlreadyCancelled
	}
	if o.FulfillmentStatus == FulfillmentStatusFulfilled {
		return ErrFulfilledOrderCannotCancel
	}
	if o.Status == OrderStatusRefunded {
		return fmt.Errorf("%w: status %s", ErrOrderClosed, o.Status)
	}
	cancelled := now
	o.Status = OrderStatusCancelled
	o.CancelledAt = &cancelled
	if reason = strings.TrimSpace(reason); reason != "" {
		o.CancelReason = &reason
	} else {
		o.CancelReason = nil
	}
	*o = Derive(*o, now)
	return nil
}
