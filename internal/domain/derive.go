package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Derive recomputes every derived field of the order from its ledgers.
// It never mutates the slices it reads, and calling it twice with the same now
// yields the same order.
func Derive(order Order, now time.Time) Order {
	subtotal := decimal.Zero
	for _, item := range order.Items {
		subtotal = subtotal.Add(item.Total)
	}
	order.Subtotal = subtotal
	order.Total = subtotal.Add(order.Tax).Add(order.Shipping).Sub(order.Discount)

	if len(order.Fulfillments) > 0 {
		order.FulfillmentStatus = deriveFulfillmentStatus(order)
	}

	order.RefundTotal = sumRefunds(order.Refunds)
	if order.RefundTotal.IsPositive() {
		if order.RefundTotal.GreaterThanOrEqual(order.Total) {
			order.PaymentStatus = PaymentStatusRefunded
			order.Status = OrderStatusRefunded
		} else {
			order.PaymentStatus = PaymentStatusPartiallyRefunded
		}
	}

	if order.Status.Terminal() && order.ClosedAt == nil {
		closed := now
		order.ClosedAt = &closed
	}
	order.UpdatedAt = now
	return order
}

func deriveFulfillmentStatus(order Order) FulfillmentStatus {
	fulfilled := 0
	for _, f := range order.Fulfillments {
		if f.Status != ShipmentStatusSuccess {
			continue
		}
		for _, item := range f.Items {
			fulfilled += item.Quantity
		}
	}
	switch {
	case fulfilled == 0:
		return FulfillmentStatusUnfulfilled
	case fulfilled < order.TotalQuantity():
		return FulfillmentStatusPartial
	default:
		return FulfillmentStatusFulfilled
	}
}

func sumRefunds(refunds []Refund) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		total = total.Add(r.Amount)
	}
	return total
}
