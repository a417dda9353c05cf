// Package auth authenticates the services calling the ledger API.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/orderledger/internal/platform/httpx"
)

const meterName = "github.com/hanko-field/orderledger/internal/platform/auth"

// Caller describes the authenticated principal behind a request.
type Caller struct {
	Method  string
	Subject string
	Email   string
	Issuer  string
	KeyName string
	Claims  map[string]any
}

type callerKey struct{}

// WithCaller stores the caller on ctx.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	if caller == nil {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller stored by the verification middleware.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(*Caller)
	return caller, ok && caller != nil
}

// CallerScope identifies the verified caller of r, or returns "" when the
// request carries none. It partitions per-caller state such as idempotency keys.
func CallerScope(r *http.Request) string {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		return ""
	}
	switch caller.Method {
	case "hmac":
		return "hmac:" + caller.KeyName
	default:
		return caller.Method + ":" + caller.Issuer + ":" + caller.Subject
	}
}

// verificationMetrics counts verification outcomes by method and reason.
type verificationMetrics struct {
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

func newVerificationMetrics(meter metric.Meter) verificationMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	var m verificationMetrics
	m.outcomes, _ = meter.Int64Counter("ledger.auth.verifications",
		metric.WithDescription("Caller verification outcomes"))
	m.latency, _ = meter.Float64Histogram("ledger.auth.verification.latency",
		metric.WithUnit("ms"))
	return m
}

func (m verificationMetrics) record(ctx context.Context, method string, success bool, reason string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="orderledger"`)
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
