package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestOrder(t *testing.T, items ...LineItemInput) Order {
	t.Helper()
	if len(items) == 0 {
		items = []LineItemInput{
			{ID: "li_a", ProductID: "prod_a", Name: "Stamp", Quantity: 2, Price: dec("20")},
			{ID: "li_b", ProductID: "prod_b", Name: "Case", Quantity: 1, Price: dec("15")},
		}
	}
	order, err := NewOrder(NewOrderParams{
		ID:          "ord_1",
		OrderNumber: "ORD-ABC-1234",
		StoreID:     "store_1",
		Email:       "buyer@example.com",
		Items:       items,
		Tax:         dec("5"),
		Shipping:    dec("10"),
		Currency:    "usd",
	}, testNow)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	return order
}

func TestNewOrderScenarioTotals(t *testing.T) {
	order := newTestOrder(t)

	if !order.Subtotal.Equal(dec("55")) {
		t.Fatalf("expected subtotal 55, got %s", order.Subtotal)
	}
	if !order.Total.Equal(dec("70")) {
		t.Fatalf("expected total 70, got %s", order.Total)
	}
	if order.Currency != "USD" {
		t.Fatalf("expected normalized currency USD, got %s", order.Currency)
	}
	if order.Status != OrderStatusPending || order.PaymentStatus != PaymentStatusPending || order.FulfillmentStatus != FulfillmentStatusUnfulfilled {
		t.Fatalf("unexpected initial statuses: %s/%s/%s", order.Status, order.PaymentStatus, order.FulfillmentStatus)
	}
	if !order.CreatedAt.Equal(testNow) || !order.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected timestamps at %s", testNow)
	}
}

func TestNewOrderKeepsItemTotalOverride(t *testing.T) {
	override := dec("30")
	order := newTestOrder(t, LineItemInput{ID: "li_a", ProductID: "p", Quantity: 2, Price: dec("20"), Total: &override})

	if !order.Items[0].Total.Equal(override) {
		t.Fatalf("expected override total preserved, got %s", order.Items[0].Total)
	}
	if !order.Subtotal.Equal(override) {
		t.Fatalf("expected subtotal from item total, got %s", order.Subtotal)
	}
}

func TestNewOrderValidation(t *testing.T) {
	base := func() NewOrderParams {
		return NewOrderParams{
			ID:          "ord_1",
			OrderNumber: "ORD-1",
			StoreID:     "store",
			Email:       "a@example.com",
			Currency:    "JPY",
			Items:       []LineItemInput{{ID: "li", ProductID: "p", Quantity: 1, Price: dec("100")}},
		}
	}
	cases := map[string]func(p *NewOrderParams){
		"missing store":     func(p *NewOrderParams) { p.StoreID = " " },
		"missing email":     func(p *NewOrderParams) { p.Email = "" },
		"no items":          func(p *NewOrderParams) { p.Items = nil },
		"zero quantity":     func(p *NewOrderParams) { p.Items[0].Quantity = 0 },
		"negative price":    func(p *NewOrderParams) { p.Items[0].Price = dec("-1") },
		"unknown currency":  func(p *NewOrderParams) { p.Currency = "ZZZ" },
		"negative tax":      func(p *NewOrderParams) { p.Tax = dec("-0.01") },
		"discount too high": func(p *NewOrderParams) { p.Discount = dec("101") },
		"duplicate item ids": func(p *NewOrderParams) {
			p.Items = append(p.Items, p.Items[0])
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := base()
			mutate(&params)
			if _, err := NewOrder(params, testNow); !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}
}

func TestFulfillmentProgression(t *testing.T) {
	order := newTestOrder(t, LineItemInput{ID: "li_a", ProductID: "p", Quantity: 10, Price: dec("1")})

	first, err := order.AddFulfillment("ful_1", FulfillmentInput{Items: []FulfillmentItem{{ItemID: "li_a", Quantity: 4}}}, testNow)
	if err != nil {
		t.Fatalf("AddFulfillment: %v", err)
	}
	if first.Status != ShipmentStatusOpen {
		t.Fatalf("expected open fulfillment, got %s", first.Status)
	}
	if order.FulfillmentStatus != FulfillmentStatusUnfulfilled {
		t.Fatalf("open fulfillment must not count, got %s", order.FulfillmentStatus)
	}

	later := testNow.Add(time.Hour)
	shipped, err := order.MarkFulfilled("ful_1", &Tracking{Company: "Yamato", Number: "123"}, later)
	if err != nil {
		t.Fatalf("MarkFulfilled: %v", err)
	}
	if shipped.Status != ShipmentStatusSuccess || shipped.ShippedAt == nil || !shipped.ShippedAt.Equal(later) {
		t.Fatalf("unexpected shipped fulfillment: %+v", shipped)
	}
	if shipped.TrackingCompany != "Yamato" || shipped.TrackingNumber != "123" {
		t.Fatalf("expected tracking copied, got %+v", shipped)
	}
	if order.FulfillmentStatus != FulfillmentStatusPartial {
		t.Fatalf("expected partial, got %s", order.FulfillmentStatus)
	}

	if _, err := order.AddFulfillment("ful_2", FulfillmentInput{Items: []FulfillmentItem{{ItemID: "li_a", Quantity: 6}}}, later); err != nil {
		t.Fatalf("AddFulfillment second: %v", err)
	}
	if _, err := order.MarkFulfilled("ful_2", nil, later); err != nil {
		t.Fatalf("MarkFulfilled second: %v", err)
	}
	if order.FulfillmentStatus != FulfillmentStatusFulfilled {
		t.Fatalf("expected fulfilled, got %s", order.FulfillmentStatus)
	}
	if !order.UpdatedAt.Equal(later) {
		t.Fatalf("expected updatedAt refreshed")
	}
}

func TestAddFulfillmentRejectsOverShipment(t *testing.T) {
	order := newTestOrder(t)
	if _, err := order.AddFulfillment("ful_1", FulfillmentInput{Items: []FulfillmentItem{{ItemID: "li_a", Quantity: 2}}}, testNow); err != nil {
		t.Fatalf("AddFulfillment: %v", err)
	}
	before := order.Clone()

	_, err := order.AddFulfillment("ful_2", FulfillmentInput{Items: []FulfillmentItem{{ItemID: "li_a", Quantity: 1}}}, testNow)
	if !errors.Is(err, ErrFulfillmentExceedsQuantity) {
		t.Fatalf("expected ErrFulfillmentExceedsQuantity, got %v", err)
	}
	if len(order.Fulfillments) != len(before.Fulfillments) {
		t.Fatalf("failed guard must not append")
	}

	_, err = order.AddFulfillment("ful_3", FulfillmentInput{Items: []FulfillmentItem{{ItemID: "missing", Quantity: 1}}}, testNow)
	if !errors.Is(err, ErrLineItemNotFound) {
		t.Fatalf("expected ErrLineItemNotFound, got %v", err)
	}
}

func TestAddFulfillmentRejectsClosedOrder(t *testing.T) {
	order := newTestOrder(t)
	if err := order.Cancel("customer request", testNow); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err := order.AddFulfillment("ful_1", FulfillmentInput{Items: []FulfillmentItem{{ItemID: "li_a", Quantity: 1}}}, testNow)
	if !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("expected ErrOrderClosed, got %v", err)
	}
}

func TestMarkFulfilledNotFoundLeavesOrderUntouched(t *testing.T) {
	order := newTestOrder(t)
	before := order.Clone()

	if _, err := order.MarkFulfilled("nope", nil, testNow.Add(time.Minute)); !errors.Is(err, ErrFulfillmentNotFound) {
		t.Fatalf("expected ErrFulfillmentNotFound, got %v", err)
	}
	if !order.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("failed guard must not refresh updatedAt")
	}
}

func TestRefundThresholds(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		order := newTestOrder(t)
		if _, err := order.AddRefund("ref_1", RefundInput{Amount: dec("20"), Reason: "damaged"}, testNow); err != nil {
			t.Fatalf("AddRefund: %v", err)
		}
		if order.PaymentStatus != PaymentStatusPartiallyRefunded {
			t.Fatalf("expected partially_refunded, got %s", order.PaymentStatus)
		}
		if order.Status != OrderStatusPending {
			t.Fatalf("expected status unchanged, got %s", order.Status)
		}
		if !order.RefundTotal.Equal(dec("20")) {
			t.Fatalf("expected refund total 20, got %s", order.RefundTotal)
		}
	})

	t.Run("full", func(t *testing.T) {
		order := newTestOrder(t)
		if _, err := order.AddRefund("ref_1", RefundInput{Amount: dec("70")}, testNow); err != nil {
			t.Fatalf("AddRefund: %v", err)
		}
		if order.PaymentStatus != PaymentStatusRefunded || order.Status != OrderStatusRefunded {
			t.Fatalf("expected refunded/refunded, got %s/%s", order.PaymentStatus, order.Status)
		}
		if order.ClosedAt == nil {
			t.Fatalf("expected closedAt stamped")
		}
	})

	t.Run("accumulated", func(t *testing.T) {
		order := newTestOrder(t)
		for i, amount := range []string{"30", "40"} {
			if _, err := order.AddRefund("ref_"+amount, RefundInput{Amount: dec(amount)}, testNow); err != nil {
				t.Fatalf("AddRefund %d: %v", i, err)
			}
		}
		if order.Status != OrderStatusRefunded {
			t.Fatalf("expected refunded after accumulated refunds, got %s", order.Status)
		}
	})
}

func TestAddRefundRejectsOverRefund(t *testing.T) {
	order := newTestOrder(t)
	if _, err := order.AddRefund("ref_1", RefundInput{Amount: dec("50")}, testNow); err != nil {
		t.Fatalf("AddRefund: %v", err)
	}

	_, err := order.AddRefund("ref_2", RefundInput{Amount: dec("20.01")}, testNow)
	if !errors.Is(err, ErrRefundExceedsBalance) {
		t.Fatalf("expected ErrRefundExceedsBalance, got %v", err)
	}
	if len(order.Refunds) != 1 || !order.RefundTotal.Equal(dec("50")) {
		t.Fatalf("failed refund must not mutate ledger")
	}

	if _, err := order.AddRefund("ref_3", RefundInput{Amount: decimal.Zero}, testNow); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder for zero amount, got %v", err)
	}
}

func TestCancelGuards(t *testing.T) {
	t.Run("twice", func(t *testing.T) {
		order := newTestOrder(t)
		if err := order.Cancel("changed mind", testNow); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if order.Status != OrderStatusCancelled || order.CancelledAt == nil || order.CancelReason == nil || *order.CancelReason != "changed mind" {
			t.Fatalf("unexpected cancelled order: %+v", order)
		}
		if order.PaymentStatus != PaymentStatusPending {
			t.Fatalf("cancel must not touch payment status")
		}
		if err := order.Cancel("again", testNow); !errors.Is(err, ErrAlreadyCancelled) {
			t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
		}
	})

	t.Run("fulfilled", func(t *testing.T) {
		order := newTestOrder(t, LineItemInput{ID: "li_a", ProductID: "p", Quantity: 1, Price: dec("10")})
		if _, err := order.AddFulfillment("ful_1", FulfillmentInput{Items: []FulfillmentItem{{ItemID: "li_a", Quantity: 1}}}, testNow); err != nil {
			t.Fatalf("AddFulfillment: %v", err)
		}
		if _, err := order.MarkFulfilled("ful_1", nil, testNow); err != nil {
			t.Fatalf("MarkFulfilled: %v", err)
		}
		if err := order.Cancel("", testNow); !errors.Is(err, ErrFulfilledOrderCannotCancel) {
			t.Fatalf("expected ErrFulfilledOrderCannotCancel, got %v", err)
		}
		if order.Status == OrderStatusCancelled {
			t.Fatalf("failed guard must not change status")
		}
	})

	t.Run("refund after cancel", func(t *testing.T) {
		order := newTestOrder(t)
		if err := order.Cancel("", testNow); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if _, err := order.AddRefund("ref_1", RefundInput{Amount: dec("10")}, testNow); err != nil {
			t.Fatalf("AddRefund after cancel: %v", err)
		}
		if order.Status != OrderStatusCancelled || order.PaymentStatus != PaymentStatusPartiallyRefunded {
			t.Fatalf("unexpected statuses %s/%s", order.Status, order.PaymentStatus)
		}
	})
}

func TestAddRefundBoundsRefundItems(t *testing.T) {
	cases := []struct {
		name  string
		first *RefundInput
		input RefundInput
	}{
		{
			name:  "items exceed amount",
			input: RefundInput{Amount: dec("10"), Items: []RefundItem{{ItemID: "li_a", Quantity: 1, Amount: dec("20")}}},
		},
		{
			name:  "quantity exceeds ordered",
			input: RefundInput{Amount: dec("45"), Items: []RefundItem{{ItemID: "li_a", Quantity: 3, Amount: dec("45")}}},
		},
		{
			name:  "quantity exceeds remaining",
			first: &RefundInput{Amount: dec("20"), Items: []RefundItem{{ItemID: "li_a", Quantity: 1, Amount: dec("20")}}},
			input: RefundInput{Amount: dec("40"), Items: []RefundItem{{ItemID: "li_a", Quantity: 1}, {ItemID: "li_a", Quantity: 1}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := newTestOrder(t)
			if tc.first != nil {
				if _, err := order.AddRefund("ref_0", *tc.first, testNow); err != nil {
					t.Fatalf("first refund: %v", err)
				}
			}
			before := len(order.Refunds)
			if _, err := order.AddRefund("ref_1", tc.input, testNow); !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("expected ErrInvalidOrder, got %v", err)
			}
			if len(order.Refunds) != before {
				t.Fatalf("rejected refund must not be recorded")
			}
		})
	}

	order := newTestOrder(t)
	within := RefundInput{Amount: dec("35"), Items: []RefundItem{
		{ItemID: "li_a", Quantity: 1, Amount: dec("20")},
		{ItemID: "li_b", Quantity: 1, Amount: dec("15")},
	}}
	if _, err := order.AddRefund("ref_1", within, testNow); err != nil {
		t.Fatalf("expected itemised refund within bounds, got %v", err)
	}
}
