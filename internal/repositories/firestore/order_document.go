package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// Money is persisted as decimal strings so no precision is lost in float64 fields.

type orderDocument struct {
	ID           string `firestore:"id"`
	OrderNumber  string `firestore:"orderNumber"`
	StoreID      string `firestore:"storeId"`
	CustomerID   string `firestore:"customerId,omitempty"`
	Email        string `firestore:"email"`
	CustomerName string `firestore:"customerName,omitempty"`
	Phone        string `firestore:"phone,omitempty"`

	Items []lineItemDocument `firestore:"items"`

	Subtotal    string `firestore:"subtotal"`
	Tax         string `firestore:"tax"`
	Shipping    string `firestore:"shipping"`
	Discount    string `firestore:"discount"`
	Total       string `firestore:"total"`
	RefundTotal string `firestore:"refundTotal"`
	Currency    string `firestore:"currency"`

	ShippingAddress *addressDocument `firestore:"shippingAddress,omitempty"`
	BillingAddress  *addressDocument `firestore:"billingAddress,omitempty"`

	Status            string `firestore:"status"`
	PaymentStatus     string `firestore:"paymentStatus"`
	FulfillmentStatus string `firestore:"fulfillmentStatus"`

	Fulfillments []fulfillmentDocument `firestore:"fulfillments"`
	Refunds      []refundDocument      `firestore:"refunds"`

	Note         string `firestore:"note,omitempty"`
	CustomerNote string `firestore:"customerNote,omitempty"`

	CancelledAt  *time.Time `firestore:"cancelledAt,omitempty"`
	CancelReason *string    `firestore:"cancelReason,omitempty"`

	CreatedAt time.Time  `firestore:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
	ClosedAt  *time.Time `firestore:"closedAt,omitempty"`
	Version   int64      `firestore:"version"`
}

type lineItemDocument struct {
	ID             string  `firestore:"id"`
	ProductID      string  `firestore:"productId"`
	VariantID      *string `firestore:"variantId,omitempty"`
	Name           string  `firestore:"name"`
	SKU            string  `firestore:"sku,omitempty"`
	VariantTitle   string  `firestore:"variantTitle,omitempty"`
	Image          string  `firestore:"image,omitempty"`
	Quantity       int     `firestore:"quantity"`
	Price          string  `firestore:"price"`
	CompareAtPrice *string `firestore:"compareAtPrice,omitempty"`
	Total          string  `firestore:"total"`
}

type fulfillmentDocument struct {
	ID                  string                    `firestore:"id"`
	Status              string                    `firestore:"status"`
	TrackingCompany     string                    `firestore:"trackingCompany,omitempty"`
	TrackingNumber      string                    `firestore:"trackingNumber,omitempty"`
	TrackingURL         string                    `firestore:"trackingUrl,omitempty"`
	ShippedAt           *time.Time                `firestore:"shippedAt,omitempty"`
	EstimatedDeliveryAt *time.Time                `firestore:"estimatedDeliveryAt,omitempty"`
	Items               []fulfillmentItemDocument `firestore:"items"`
	CreatedAt           time.Time                 `firestore:"createdAt"`
	UpdatedAt           time.Time                 `firestore:"updatedAt"`
}

type fulfillmentItemDocument struct {
	ItemID   string `firestore:"itemId"`
	Quantity int    `firestore:"quantity"`
}

type refundDocument struct {
	ID        string               `firestore:"id"`
	Amount    string               `firestore:"amount"`
	Reason    string               `firestore:"reason,omitempty"`
	Items     []refundItemDocument `firestore:"items,omitempty"`
	CreatedAt time.Time            `firestore:"createdAt"`
}

type refundItemDocument struct {
	ItemID   string `firestore:"itemId"`
	Quantity int    `firestore:"quantity"`
	Amount   string `firestore:"amount"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		StoreID:           order.StoreID,
		CustomerID:        order.CustomerID,
		Email:             order.Email,
		CustomerName:      order.CustomerName,
		Phone:             order.Phone,
		Subtotal:          order.Subtotal.String(),
		Tax:               order.Tax.String(),
		Shipping:          order.Shipping.String(),
		Discount:          order.Discount.String(),
		Total:             order.Total.String(),
		RefundTotal:       order.RefundTotal.String(),
		Currency:          order.Currency,
		ShippingAddress:   encodeAddress(order.ShippingAddress),
		BillingAddress:    encodeAddress(order.BillingAddress),
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		FulfillmentStatus: string(order.FulfillmentStatus),
		Note:              order.Note,
		CustomerNote:      order.CustomerNote,
		CancelledAt:       order.CancelledAt,
		CancelReason:      order.CancelReason,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
		ClosedAt:          order.ClosedAt,
		Version:           order.Version,
	}

	doc.Items = make([]lineItemDocument, len(order.Items))
	for i, item := range order.Items {
		var compareAt *string
		if item.CompareAtPrice != nil {
			v := item.CompareAtPrice.String()
			compareAt = &v
		}
		doc.Items[i] = lineItemDocument{
			ID:             item.ID,
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Name:           item.Name,
			SKU:            item.SKU,
			VariantTitle:   item.VariantTitle,
			Image:          item.Image,
			Quantity:       item.Quantity,
			Price:          item.Price.String(),
			CompareAtPrice: compareAt,
			Total:          item.Total.String(),
		}
	}

	doc.Fulfillments = make([]fulfillmentDocument, len(order.Fulfillments))
	for i, f := range order.Fulfillments {
		items := make([]fulfillmentItemDocument, len(f.Items))
		for j, item := range f.Items {
			items[j] = fulfillmentItemDocument{ItemID: item.ItemID, Quantity: item.Quantity}
		}
		doc.Fulfillments[i] = fulfillmentDocument{
			ID:                  f.ID,
			Status:              string(f.Status),
			TrackingCompany:     f.TrackingCompany,
			TrackingNumber:      f.TrackingNumber,
			TrackingURL:         f.TrackingURL,
			ShippedAt:           f.ShippedAt,
			EstimatedDeliveryAt: f.EstimatedDeliveryAt,
			Items:               items,
			CreatedAt:           f.CreatedAt,
			UpdatedAt:           f.UpdatedAt,
		}
	}

	doc.Refunds = make([]refundDocument, len(order.Refunds))
	for i, r := range order.Refunds {
		var items []refundItemDocument
		for _, item := range r.Items {
			items = append(items, refundItemDocument{ItemID: item.ItemID, Quantity: item.Quantity, Amount: item.Amount.String()})
		}
		doc.Refunds[i] = refundDocument{
			ID:        r.ID,
			Amount:    r.Amount.String(),
			Reason:    r.Reason,
			Items:     items,
			CreatedAt: r.CreatedAt,
		}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	amounts, err := parseAmounts(map[string]string{
		"subtotal":    doc.Subtotal,
		"tax":         doc.Tax,
		"shipping":    doc.Shipping,
		"discount":    doc.Discount,
		"total":       doc.Total,
		"refundTotal": doc.RefundTotal,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, err)
	}

	if doc.ID == "" {
		doc.ID = id
	}
	order := domain.Order{
		ID:                doc.ID,
		OrderNumber:       doc.OrderNumber,
		StoreID:           doc.StoreID,
		CustomerID:        doc.CustomerID,
		Email:             doc.Email,
		CustomerName:      doc.CustomerName,
		Phone:             doc.Phone,
		Subtotal:          amounts["subtotal"],
		Tax:               amounts["tax"],
		Shipping:          amounts["shipping"],
		Discount:          amounts["discount"],
		Total:             amounts["total"],
		RefundTotal:       amounts["refundTotal"],
		Currency:          doc.Currency,
		ShippingAddress:   decodeAddress(doc.ShippingAddress),
		BillingAddress:    decodeAddress(doc.BillingAddress),
		Status:            domain.OrderStatus(doc.Status),
		PaymentStatus:     domain.PaymentStatus(doc.PaymentStatus),
		FulfillmentStatus: domain.FulfillmentStatus(doc.FulfillmentStatus),
		Note:              doc.Note,
		CustomerNote:      doc.CustomerNote,
		CancelledAt:       utcPtr(doc.CancelledAt),
		CancelReason:      doc.CancelReason,
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
		ClosedAt:          utcPtr(doc.ClosedAt),
		Version:           doc.Version,
	}

	order.Items = make([]domain.LineItem, len(doc.Items))
	for i, item := range doc.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %s price: %w", id, item.ID, err)
		}
		total, err := decimal.NewFromString(item.Total)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %s total: %w", id, item.ID, err)
		}
		var compareAt *decimal.Decimal
		if item.CompareAtPrice != nil {
			v, err := decimal.NewFromString(*item.CompareAtPrice)
			if err != nil {
				return domain.Order{}, fmt.Errorf("order %s item %s compare at price: %w", id, item.ID, err)
			}
			compareAt = &v
		}
		order.Items[i] = domain.LineItem{
			ID:             item.ID,
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Name:           item.Name,
			SKU:            item.SKU,
			VariantTitle:   item.VariantTitle,
			Image:          item.Image,
			Quantity:       item.Quantity,
			Price:          price,
			CompareAtPrice: compareAt,
			Total:          total,
		}
	}

	if len(doc.Fulfillments) > 0 {
		order.Fulfillments = make([]domain.Fulfillment, len(doc.Fulfillments))
	}
	for i, f := range doc.Fulfillments {
		items := make([]domain.FulfillmentItem, len(f.Items))
		for j, item := range f.Items {
			items[j] = domain.FulfillmentItem{ItemID: item.ItemID, Quantity: item.Quantity}
		}
		order.Fulfillments[i] = domain.Fulfillment{
			ID:                  f.ID,
			Status:              domain.ShipmentStatus(f.Status),
			TrackingCompany:     f.TrackingCompany,
			TrackingNumber:      f.TrackingNumber,
			TrackingURL:         f.TrackingURL,
			ShippedAt:           utcPtr(f.ShippedAt),
			EstimatedDeliveryAt: utcPtr(f.EstimatedDeliveryAt),
			Items:               items,
			CreatedAt:           f.CreatedAt.UTC(),
			UpdatedAt:           f.UpdatedAt.UTC(),
		}
	}

	if len(doc.Refunds) > 0 {
		order.Refunds = make([]domain.Refund, len(doc.Refunds))
	}
	for i, r := range doc.Refunds {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s refund %s amount: %w", id, r.ID, err)
		}
		var items []domain.RefundItem
		for _, item := range r.Items {
			itemAmount, err := decimal.NewFromString(item.Amount)
			if err != nil {
				return domain.Order{}, fmt.Errorf("order %s refund %s item amount: %w", id, r.ID, err)
			}
			items = append(items, domain.RefundItem{ItemID: item.ItemID, Quantity: item.Quantity, Amount: itemAmount})
		}
		order.Refunds[i] = domain.Refund{
			ID:        r.ID,
			Amount:    amount,
			Reason:    r.Reason,
			Items:     items,
			CreatedAt: r.CreatedAt.UTC(),
		}
	}
	return order, nil
}

func parseAmounts(raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for field, value := range raw {
		if value == "" {
			out[field] = decimal.Zero
			continue
		}
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		out[field] = parsed
	}
	return out, nil
}

func encodeAddress(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	return &addressDocument{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func decodeAddress(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Phone:      doc.Phone,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
