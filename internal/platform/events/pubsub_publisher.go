// Package events publishes order events to Cloud Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orderledger/internal/services"
)

// OrderMessage is the JSON body of an order event message.
type OrderMessage struct {
	Type              string             `json:"type"`
	OrderID           string             `json:"order_id"`
	OrderNumber       string             `json:"order_number"`
	StoreID           string             `json:"store_id"`
	CustomerName      string             `json:"customer_name,omitempty"`
	Email             string             `json:"email"`
	Total             string             `json:"total"`
	Currency          string             `json:"currency"`
	Status            string             `json:"status"`
	PaymentStatus     string             `json:"payment_status"`
	FulfillmentStatus string             `json:"fulfillment_status"`
	Items             []OrderMessageItem `json:"items,omitempty"`
	FulfillmentID     string             `json:"fulfillment_id,omitempty"`
	Tracking          *TrackingMessage   `json:"tracking,omitempty"`
	RefundID          string             `json:"refund_id,omitempty"`
	RefundAmount      string             `json:"refund_amount,omitempty"`
	Reason            string             `json:"reason,omitempty"`
	OccurredAt        time.Time          `json:"occurred_at"`
}

// OrderMessageItem is a line item summary for notification templates.
type OrderMessageItem struct {
	Name     string `json:"name"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
	Total    string `json:"total"`
}

// TrackingMessage carries carrier details of a fulfilled shipment.
type TrackingMessage struct {
	Company string `json:"company,omitempty"`
	Number  string `json:"number,omitempty"`
	URL     string `json:"url,omitempty"`
}

// PubSubOrderPublisher implements services.OrderEventPublisher on a Pub/Sub topic.
// Messages are ordered per order id when the topic has message ordering enabled.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderPublisher)(nil)

// NewPubSubOrderPublisher constructs a publisher for the topic.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderEvent publishes the event and waits for the server ack.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	data, err := p.marshal(NewOrderMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{}
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "storeId", event.StoreID)

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.OrderID
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

// NewOrderMessage converts a service event into its wire form.
func NewOrderMessage(event services.OrderEvent) OrderMessage {
	msg := OrderMessage{
		Type:              event.Type,
		OrderID:           event.OrderID,
		OrderNumber:       event.OrderNumber,
		StoreID:           event.StoreID,
		CustomerName:      event.CustomerName,
		Email:             event.Email,
		Total:             event.Total,
		Currency:          event.Currency,
		Status:            event.Status,
		PaymentStatus:     event.PaymentStatus,
		FulfillmentStatus: event.FulfillmentStatus,
		FulfillmentID:     event.FulfillmentID,
		RefundID:          event.RefundID,
		RefundAmount:      event.RefundAmount,
		Reason:            event.Reason,
		OccurredAt:        event.OccurredAt,
	}
	for _, item := range event.Items {
		msg.Items = append(msg.Items, OrderMessageItem{Name: item.Name, SKU: item.SKU, Quantity: item.Quantity, Total: item.Total})
	}
	if event.Tracking != nil {
		msg.Tracking = &TrackingMessage{Company: event.Tracking.Company, Number: event.Tracking.Number, URL: event.Tracking.URL}
	}
	return msg
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
