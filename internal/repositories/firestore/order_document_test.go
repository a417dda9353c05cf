package firestore

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

func sampleOrder(t *testing.T) domain.Order {
	t.Helper()
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	variant := "var_1"
	compareAt := decimal.RequireFromString("25.00")
	line2 := "Apt 4"
	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:          "ord_1",
		OrderNumber: "ORD-LV4Z1K-AB12",
		StoreID:     "store_1",
		CustomerID:  "cus_1",
		Email:       "buyer@example.com",
		Currency:    "JPY",
		Tax:         decimal.RequireFromString("5"),
		Shipping:    decimal.RequireFromString("10.50"),
		Items: []domain.LineItemInput{
			{ID: "li_a", ProductID: "prod_a", VariantID: &variant, Name: "Seal", Quantity: 2, Price: decimal.RequireFromString("20.25"), CompareAtPrice: &compareAt},
			{ID: "li_b", ProductID: "prod_b", Name: "Case", Quantity: 1, Price: decimal.RequireFromString("15")},
		},
		ShippingAddress: &domain.Address{Recipient: "Sato", Line1: "1-2-3", Line2: &line2, City: "Tokyo", PostalCode: "100-0001", Country: "JP"},
	}, now)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if _, err := order.AddFulfillment("ful_1", domain.FulfillmentInput{Items: []domain.FulfillmentItem{{ItemID: "li_a", Quantity: 1}}}, now); err != nil {
		t.Fatalf("AddFulfillment: %v", err)
	}
	if _, err := order.MarkFulfilled("ful_1", &domain.Tracking{Company: "Yamato", Number: "Y-1"}, now); err != nil {
		t.Fatalf("MarkFulfilled: %v", err)
	}
	if _, err := order.AddRefund("ref_1", domain.RefundInput{
		Amount: decimal.RequireFromString("3.10"),
		Reason: "damaged",
		Items:  []domain.RefundItem{{ItemID: "li_b", Quantity: 1, Amount: decimal.RequireFromString("3.10")}},
	}, now); err != nil {
		t.Fatalf("AddRefund: %v", err)
	}
	order.Version = 3
	return order
}

func TestOrderDocumentRoundTrip(t *testing.T) {
	order := sampleOrder(t)

	decoded, err := decodeOrder(order.ID, encodeOrder(order))
	if err != nil {
		t.Fatalf("decodeOrder: %v", err)
	}
	if !reflect.DeepEqual(encodeOrder(order), encodeOrder(decoded)) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", order, decoded)
	}
	if !decoded.Total.Equal(order.Total) || decoded.Version != 3 || decoded.ShippingAddress.Line2 == nil {
		t.Fatalf("unexpected decoded order %+v", decoded)
	}
	if decoded.Fulfillments[0].ShippedAt == nil || decoded.Refunds[0].Items[0].ItemID != "li_b" {
		t.Fatalf("unexpected decoded ledgers %+v %+v", decoded.Fulfillments, decoded.Refunds)
	}
}

func TestEncodeOrderStoresDecimalStrings(t *testing.T) {
	doc := encodeOrder(sampleOrder(t))

	if doc.Subtotal != "55.5" || doc.Total != "71" || doc.RefundTotal != "3.1" {
		t.Fatalf("unexpected amounts %s/%s/%s", doc.Subtotal, doc.Total, doc.RefundTotal)
	}
	if doc.Items[0].Price != "20.25" || doc.Items[0].CompareAtPrice == nil || *doc.Items[0].CompareAtPrice != "25" {
		t.Fatalf("unexpected item prices %+v", doc.Items[0])
	}
	if doc.Fulfillments[0].TrackingCompany != "Yamato" || doc.Fulfillments[0].Status != "success" {
		t.Fatalf("unexpected fulfillment %+v", doc.Fulfillments[0])
	}
}

func TestDecodeOrderRejectsMalformedAmounts(t *testing.T) {
	doc := encodeOrder(sampleOrder(t))
	doc.Total = "seventy"

	if _, err := decodeOrder("ord_1", doc); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDecodeOrderDefaultsMissingAmountsAndID(t *testing.T) {
	doc := encodeOrder(sampleOrder(t))
	doc.ID = ""
	doc.RefundTotal = ""

	order, err := decodeOrder("ord_9", doc)
	if err != nil {
		t.Fatalf("decodeOrder: %v", err)
	}
	if order.ID != "ord_9" || !order.RefundTotal.IsZero() {
		t.Fatalf("unexpected defaults id=%s refund=%s", order.ID, order.RefundTotal)
	}
}
