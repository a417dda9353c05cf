package domain

import "errors"

var (
	// ErrInvalidOrder is the category for malformed order input.
	ErrInvalidOrder = errors.New("order: invalid input")
	// ErrLineItemNotFound is returned when a fulfillment or refund references an unknown line item.
	ErrLineItemNotFound = errors.New("order: line item not found")
	// ErrFulfillmentNotFound is returned when the referenced fulfillment does not exist on the order.
	ErrFulfillmentNotFound = errors.New("order: fulfillment not found")
	// ErrFulfillmentExceedsQuantity is returned when shipping more units than were ordered.
	ErrFulfillmentExceedsQuantity = errors.New("order: fulfillment exceeds ordered quantity")
	// ErrOrderClosed is returned when adding fulfillments to a cancelled or refunded order.
	ErrOrderClosed = errors.New("order: order is closed")
	// ErrAlreadyCancelled is returned when cancelling an order twice.
	ErrAlreadyCancelled = errors.New("order: already cancelled")
	// ErrFulfilledOrderCannotCancel is returned when cancelling an order whose items have all shipped.
	ErrFulfilledOrderCannotCancel = errors.New("order: fulfilled order cannot be cancelled")
	// ErrRefundExceedsBalance is returned when refunds would sum past the order total.
	ErrRefundExceedsBalance = errors.New("order: refund exceeds balance")
)
