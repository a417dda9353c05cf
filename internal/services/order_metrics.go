package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/hanko-field/orderledger/internal/services"

// ledgerMetrics holds the order ledger instruments. Instruments that fail to
// register stay nil and are skipped.
type ledgerMetrics struct {
	ordersCreated      metric.Int64Counter
	fulfillmentsAdded  metric.Int64Counter
	fulfillmentsMarked metric.Int64Counter
	refundsIssued      metric.Int64Counter
	refundAmount       metric.Float64Counter
	cancellations      metric.Int64Counter
	allocationAttempts metric.Int64Histogram
}

func newLedgerMetrics(meter metric.Meter) ledgerMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var m ledgerMetrics
	m.ordersCreated, _ = meter.Int64Counter("ledger.orders.created",
		metric.WithDescription("Orders opened"))
	m.fulfillmentsAdded, _ = meter.Int64Counter("ledger.fulfillments.added",
		metric.WithDescription("Fulfillment records appended"))
	m.fulfillmentsMarked, _ = meter.Int64Counter("ledger.fulfillments.shipped",
		metric.WithDescription("Fulfillments marked as shipped"))
	m.refundsIssued, _ = meter.Int64Counter("ledger.refunds.issued",
		metric.WithDescription("Refund records appended"))
	m.refundAmount, _ = meter.Float64Counter("ledger.refunds.amount",
		metric.WithDescription("Refunded money in order currency units"))
	m.cancellations, _ = meter.Int64Counter("ledger.orders.cancelled",
		metric.WithDescription("Orders cancelled"))
	m.allocationAttempts, _ = meter.Int64Histogram("ledger.order_number.attempts",
		metric.WithDescription("Uniqueness probes used per order number allocation"))
	return m
}

func addCount(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m ledgerMetrics) recordRefund(ctx context.Context, amount float64, currency string) {
	attrs := metric.WithAttributes(attribute.String("currency", currency))
	if m.refundsIssued != nil {
		m.refundsIssued.Add(ctx, 1, attrs)
	}
	if m.refundAmount != nil {
		m.refundAmount.Add(ctx, amount, attrs)
	}
}

func (m ledgerMetrics) recordAllocation(ctx context.Context, attempts int, err error) {
	if m.allocationAttempts == nil {
		return
	}
	m.allocationAttempts.Record(ctx, int64(attempts), metric.WithAttributes(attribute.Bool("failed", err != nil)))
}
