package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/httpx"
	"github.com/hanko-field/orderledger/internal/platform/pagination"
	"github.com/hanko-field/orderledger/internal/platform/requestctx"
	"github.com/hanko-field/orderledger/internal/services"
)

const maxOrderBodySize = 256 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")

	validOrderStatuses = map[domain.OrderStatus]struct{}{
		domain.OrderStatusPending:    {},
		domain.OrderStatusProcessing: {},
		domain.OrderStatusShipped:    {},
		domain.OrderStatusDelivered:  {},
		domain.OrderStatusCancelled:  {},
		domain.OrderStatusRefunded:   {},
	}
	validPaymentStatuses = map[domain.PaymentStatus]struct{}{
		domain.PaymentStatusPending:           {},
		domain.PaymentStatusAuthorized:        {},
		domain.PaymentStatusPaid:              {},
		domain.PaymentStatusPartiallyPaid:     {},
		domain.PaymentStatusRefunded:          {},
		domain.PaymentStatusPartiallyRefunded: {},
		domain.PaymentStatusVoided:            {},
	}
	validFulfillmentStatuses = map[domain.FulfillmentStatus]struct{}{
		domain.FulfillmentStatusUnfulfilled: {},
		domain.FulfillmentStatusPartial:     {},
		domain.FulfillmentStatusFulfilled:   {},
		domain.FulfillmentStatusRestocked:   {},
	}
)

// OrderHandlers exposes the order ledger endpoints.
type OrderHandlers struct {
	orders          services.OrderService
	defaultCurrency string
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithDefaultCurrency fills the currency of create requests that omit it.
func WithDefaultCurrency(code string) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.defaultCurrency = strings.ToUpper(strings.TrimSpace(code))
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the order endpoints on the API router.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Route("/orders", func(orders chi.Router) {
		orders.Get("/", h.listOrders)
		orders.Post("/", h.createOrder)
		orders.Route("/{orderID}", func(order chi.Router) {
			order.Get("/", h.getOrder)
			order.Post("/fulfillments", h.addFulfillment)
			order.Post("/fulfillments/{fulfillmentID}/fulfill", h.markFulfilled)
			order.Post("/refunds", h.addRefund)
			order.Post("/cancel", h.cancelOrder)
		})
	})
	r.Get("/order-numbers/{orderNumber}", h.getOrderByNumber)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = h.defaultCurrency
	}
	cmd := services.CreateOrderCommand{
		StoreID:         strings.TrimSpace(req.StoreID),
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Email:           strings.TrimSpace(req.Email),
		CustomerName:    req.CustomerName,
		Phone:           strings.TrimSpace(req.Phone),
		Items:           make([]services.CreateOrderItem, 0, len(req.Items)),
		Tax:             req.Tax,
		Shipping:        req.Shipping,
		Discount:        req.Discount,
		Currency:        currency,
		ShippingAddress: req.ShippingAddress.toDomain(),
		BillingAddress:  req.BillingAddress.toDomain(),
		Note:            req.Note,
		CustomerNote:    req.CustomerNote,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{
			ProductID:      strings.TrimSpace(item.ProductID),
			VariantID:      item.VariantID,
			Name:           item.Name,
			SKU:            strings.TrimSpace(item.SKU),
			VariantTitle:   item.VariantTitle,
			Image:          strings.TrimSpace(item.Image),
			Quantity:       item.Quantity,
			Price:          item.Price,
			CompareAtPrice: item.CompareAtPrice,
			Total:          item.Total,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	pageSize, err := pagination.ParsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter := services.OrderListFilter{
		StoreID:    strings.TrimSpace(query.Get("store_id")),
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	var ok bool
	if filter.Status, ok = parseStatuses(query["status"], validOrderStatuses); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status contains an unknown value", http.StatusBadRequest))
		return
	}
	if filter.PaymentStatus, ok = parseStatuses(query["payment_status"], validPaymentStatuses); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_status contains an unknown value", http.StatusBadRequest))
		return
	}
	if filter.FulfillmentStatus, ok = parseStatuses(query["fulfillment_status"], validFulfillmentStatuses); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "fulfillment_status contains an unknown value", http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	resp := orderListResponse{Orders: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Orders = append(resp.Orders, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrderByNumber(ctx, chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addFulfillmentRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	cmd := services.AddFulfillmentCommand{
		OrderID:             chi.URLParam(r, "orderID"),
		TrackingCompany:     req.TrackingCompany,
		TrackingNumber:      req.TrackingNumber,
		TrackingURL:         req.TrackingURL,
		EstimatedDeliveryAt: req.EstimatedDeliveryAt,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.FulfillmentItem{ItemID: strings.TrimSpace(item.ItemID), Quantity: item.Quantity})
	}

	order, err := h.orders.AddFulfillment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) markFulfilled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req markFulfilledRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	cmd := services.MarkFulfilledCommand{
		OrderID:       chi.URLParam(r, "orderID"),
		FulfillmentID: chi.URLParam(r, "fulfillmentID"),
	}
	if req.TrackingCompany != "" || req.TrackingNumber != "" || req.TrackingURL != "" {
		cmd.Tracking = &services.Tracking{Company: req.TrackingCompany, Number: req.TrackingNumber, URL: req.TrackingURL}
	}

	order, err := h.orders.MarkFulfilled(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addRefundRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	cmd := services.AddRefundCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Amount:  req.Amount,
		Reason:  req.Reason,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.RefundItem{ItemID: strings.TrimSpace(item.ItemID), Quantity: item.Quantity, Amount: item.Amount})
	}

	order, err := h.orders.AddRefund(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cancelOrderRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// decode reads a bounded JSON body into dst and writes the error response on failure.
func (h *OrderHandlers) decode(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		} else {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		}
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if required {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
			return false
		}
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func parseStatuses[S ~string](values []string, valid map[S]struct{}) ([]S, bool) {
	var out []S
	seen := make(map[S]struct{})
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			status := S(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if _, ok := valid[status]; !ok {
				return nil, false
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			out = append(out, status)
		}
	}
	return out, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, domain.ErrFulfillmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, domain.ErrLineItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("line_item_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, domain.ErrFulfillmentExceedsQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_exceeds_quantity", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, domain.ErrRefundExceedsBalance):
		httpx.WriteError(ctx, w, httpx.NewError("refund_exceeds_balance", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, pagination.ErrInvalidPageToken), errors.Is(err, pagination.ErrInvalidPageSize):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, domain.ErrAlreadyCancelled):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_cancelled", err.Error(), http.StatusConflict))
	case errors.Is(err, domain.ErrFulfilledOrderCannotCancel):
		httpx.WriteError(ctx, w, httpx.NewError("order_fulfilled", err.Error(), http.StatusConflict))
	case errors.Is(err, domain.ErrOrderClosed):
		httpx.WriteError(ctx, w, httpx.NewError("order_closed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrAllocationExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_number_unavailable", "could not allocate an order number; retry", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order storage is unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process order request", http.StatusInternalServerError))
	}
}
