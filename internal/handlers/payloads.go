package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/services"
)

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

type createOrderItemRequest struct {
	ProductID      string           `json:"product_id"`
	VariantID      *string          `json:"variant_id"`
	Name           string           `json:"name"`
	SKU            string           `json:"sku"`
	VariantTitle   string           `json:"variant_title"`
	Image          string           `json:"image"`
	Quantity       int              `json:"quantity"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compare_at_price"`
	Total          *decimal.Decimal `json:"total"`
}

type createOrderRequest struct {
	StoreID         string                   `json:"store_id"`
	CustomerID      string                   `json:"customer_id"`
	Email           string                   `json:"email"`
	CustomerName    string                   `json:"customer_name"`
	Phone           string                   `json:"phone"`
	Items           []createOrderItemRequest `json:"items"`
	Tax             decimal.Decimal          `json:"tax"`
	Shipping        decimal.Decimal          `json:"shipping"`
	Discount        decimal.Decimal          `json:"discount"`
	Currency        string                   `json:"currency"`
	ShippingAddress *addressPayload          `json:"shipping_address"`
	BillingAddress  *addressPayload          `json:"billing_address"`
	Note            string                   `json:"note"`
	CustomerNote    string                   `json:"customer_note"`
}

type itemQuantityRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type addFulfillmentRequest struct {
	TrackingCompany     string                `json:"tracking_company"`
	TrackingNumber      string                `json:"tracking_number"`
	TrackingURL         string                `json:"tracking_url"`
	EstimatedDeliveryAt *time.Time            `json:"estimated_delivery_at"`
	Items               []itemQuantityRequest `json:"items"`
}

type markFulfilledRequest struct {
	TrackingCompany string `json:"tracking_company"`
	TrackingNumber  string `json:"tracking_number"`
	TrackingURL     string `json:"tracking_url"`
}

type refundItemRequest struct {
	ItemID   string          `json:"item_id"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

type addRefundRequest struct {
	Amount decimal.Decimal     `json:"amount"`
	Reason string              `json:"reason"`
	Items  []refundItemRequest `json:"items"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type lineItemPayload struct {
	ID             string           `json:"id"`
	ProductID      string           `json:"product_id"`
	VariantID      *string          `json:"variant_id,omitempty"`
	Name           string           `json:"name"`
	SKU            string           `json:"sku,omitempty"`
	VariantTitle   string           `json:"variant_title,omitempty"`
	Image          string           `json:"image,omitempty"`
	Quantity       int              `json:"quantity"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compare_at_price,omitempty"`
	Total          decimal.Decimal  `json:"total"`
}

type fulfillmentItemPayload struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type fulfillmentPayload struct {
	ID                  string                   `json:"id"`
	Status              domain.ShipmentStatus    `json:"status"`
	TrackingCompany     string                   `json:"tracking_company,omitempty"`
	TrackingNumber      string                   `json:"tracking_number,omitempty"`
	TrackingURL         string                   `json:"tracking_url,omitempty"`
	ShippedAt           *time.Time               `json:"shipped_at,omitempty"`
	EstimatedDeliveryAt *time.Time               `json:"estimated_delivery_at,omitempty"`
	Items               []fulfillmentItemPayload `json:"items"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

type refundItemPayload struct {
	ItemID   string          `json:"item_id"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

type refundPayload struct {
	ID        string              `json:"id"`
	Amount    decimal.Decimal     `json:"amount"`
	Reason    string              `json:"reason,omitempty"`
	Items     []refundItemPayload `json:"items,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

type orderPayload struct {
	ID                string                   `json:"id"`
	OrderNumber       string                   `json:"order_number"`
	StoreID           string                   `json:"store_id"`
	CustomerID        string                   `json:"customer_id,omitempty"`
	Email             string                   `json:"email"`
	CustomerName      string                   `json:"customer_name,omitempty"`
	Phone             string                   `json:"phone,omitempty"`
	Items             []lineItemPayload        `json:"items"`
	Subtotal          decimal.Decimal          `json:"subtotal"`
	Tax               decimal.Decimal          `json:"tax"`
	Shipping          decimal.Decimal          `json:"shipping"`
	Discount          decimal.Decimal          `json:"discount"`
	Total             decimal.Decimal          `json:"total"`
	RefundTotal       decimal.Decimal          `json:"refund_total"`
	Balance           decimal.Decimal          `json:"balance"`
	Currency          string                   `json:"currency"`
	ShippingAddress   *addressPayload          `json:"shipping_address,omitempty"`
	BillingAddress    *addressPayload          `json:"billing_address,omitempty"`
	Status            domain.OrderStatus       `json:"status"`
	PaymentStatus     domain.PaymentStatus     `json:"payment_status"`
	FulfillmentStatus domain.FulfillmentStatus `json:"fulfillment_status"`
	Fulfillments      []fulfillmentPayload     `json:"fulfillments"`
	Refunds           []refundPayload          `json:"refunds"`
	Note              string                   `json:"note,omitempty"`
	CustomerNote      string                   `json:"customer_note,omitempty"`
	CancelledAt       *time.Time               `json:"cancelled_at,omitempty"`
	CancelReason      *string                  `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	ClosedAt          *time.Time               `json:"closed_at,omitempty"`
	Version           int64                    `json:"version"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

func (a *addressPayload) toDomain() *services.Address {
	if a == nil {
		return nil
	}
	return &services.Address{
		Recipient:  a.Recipient,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

func buildAddressPayload(addr *services.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
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

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		StoreID:           order.StoreID,
		CustomerID:        order.CustomerID,
		Email:             order.Email,
		CustomerName:      order.CustomerName,
		Phone:             order.Phone,
		Items:             make([]lineItemPayload, 0, len(order.Items)),
		Subtotal:          order.Subtotal,
		Tax:               order.Tax,
		Shipping:          order.Shipping,
		Discount:          order.Discount,
		Total:             order.Total,
		RefundTotal:       order.RefundTotal,
		Balance:           order.Balance(),
		Currency:          order.Currency,
		ShippingAddress:   buildAddressPayload(order.ShippingAddress),
		BillingAddress:    buildAddressPayload(order.BillingAddress),
		Status:            order.Status,
		PaymentStatus:     order.PaymentStatus,
		FulfillmentStatus: order.FulfillmentStatus,
		Fulfillments:      make([]fulfillmentPayload, 0, len(order.Fulfillments)),
		Refunds:           make([]refundPayload, 0, len(order.Refunds)),
		Note:              order.Note,
		CustomerNote:      order.CustomerNote,
		CancelledAt:       order.CancelledAt,
		CancelReason:      order.CancelReason,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
		ClosedAt:          order.ClosedAt,
		Version:           order.Version,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, lineItemPayload{
			ID:             item.ID,
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Name:           item.Name,
			SKU:            item.SKU,
			VariantTitle:   item.VariantTitle,
			Image:          item.Image,
			Quantity:       item.Quantity,
			Price:          item.Price,
			CompareAtPrice: item.CompareAtPrice,
			Total:          item.Total,
		})
	}
	for _, f := range order.Fulfillments {
		items := make([]fulfillmentItemPayload, 0, len(f.Items))
		for _, item := range f.Items {
			items = append(items, fulfillmentItemPayload{ItemID: item.ItemID, Quantity: item.Quantity})
		}
		payload.Fulfillments = append(payload.Fulfillments, fulfillmentPayload{
			ID:                  f.ID,
			Status:              f.Status,
			TrackingCompany:     f.TrackingCompany,
			TrackingNumber:      f.TrackingNumber,
			TrackingURL:         f.TrackingURL,
			ShippedAt:           f.ShippedAt,
			EstimatedDeliveryAt: f.EstimatedDeliveryAt,
			Items:               items,
			CreatedAt:           f.CreatedAt,
			UpdatedAt:           f.UpdatedAt,
		})
	}
	for _, r := range order.Refunds {
		var items []refundItemPayload
		for _, item := range r.Items {
			items = append(items, refundItemPayload{ItemID: item.ItemID, Quantity: item.Quantity, Amount: item.Amount})
		}
		payload.Refunds = append(payload.Refunds, refundPayload{
			ID:        r.ID,
			Amount:    r.Amount,
			Reason:    r.Reason,
			Items:     items,
			CreatedAt: r.CreatedAt,
		})
	}
	return payload
}
