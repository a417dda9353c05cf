package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/httpx"
	"github.com/hanko-field/orderledger/internal/platform/requestctx"
)

const (
	// DefaultHeader carries the client supplied key.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader is set on replayed responses.
	ReplayHeader = "Idempotent-Replayed"

	// DefaultMaxBodyBytes bounds the request body buffered for fingerprinting.
	DefaultMaxBodyBytes int64 = 1 << 20

	maxKeyLength = 255
)

var errBodyTooLarge = errors.New("idempotency: request body too large")

type middlewareConfig struct {
	header  string
	ttl     time.Duration
	clock   func() time.Time
	scope   func(*http.Request) string
	maxBody int64
}

// Option customises the middleware.
type Option func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) Option {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL sets how long completed responses are replayable.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithScope partitions keys by the value scope returns for a request, so two
// callers sending the same key never share a stored response. An empty scope
// leaves the key unpartitioned.
func WithScope(scope func(*http.Request) string) Option {
	return func(cfg *middlewareConfig) {
		cfg.scope = scope
	}
}

// WithMaxBodyBytes bounds the body read before the handler runs. Larger bodies get 413.
func WithMaxBodyBytes(limit int64) Option {
	return func(cfg *middlewareConfig) {
		if limit > 0 {
			cfg.maxBody = limit
		}
	}
}

// Middleware makes mutating requests that carry an idempotency key safe to retry.
//
// The first request with a key runs the handler and stores its response;
// later requests with the same key and fingerprint get the stored response
// back. Reusing a key for a different request yields 409, as does a retry
// that arrives while the first attempt is still running. Server errors are
// not stored so the client may retry them. Requests without a key pass
// through untouched.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := middlewareConfig{header: DefaultHeader, ttl: DefaultTTL, clock: time.Now, maxBody: DefaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r, cfg.maxBody)
			if errors.Is(err, errBodyTooLarge) {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
				return
			}
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			ctx = requestctx.WithIdempotencyKey(ctx, key)
			r = r.WithContext(ctx)
			fingerprint := Fingerprint(r, body)
			storeKey := key
			if cfg.scope != nil {
				if scope := cfg.scope(r); scope != "" {
					storeKey = scope + "\n" + key
				}
			}

			state, record, err := store.Reserve(ctx, storeKey, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusConflict))
				return
			case err != nil:
				requestctx.Logger(ctx).Error("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch state {
			case StateCompleted:
				replay(w, record.Response)
				return
			case StateInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			rec := &recorder{header: make(http.Header)}
			completed := false
			defer func() {
				if !completed {
					release(ctx, store, storeKey)
				}
			}()
			next.ServeHTTP(rec, r)

			resp := Response{Status: rec.statusCode(), Headers: rec.header, Body: rec.body.Bytes()}
			if resp.Status >= http.StatusInternalServerError {
				release(ctx, store, storeKey)
			} else if err := store.Complete(ctx, storeKey, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
				requestctx.Logger(ctx).Warn("idempotency complete failed", zap.Error(err))
				release(ctx, store, storeKey)
			}
			completed = true
			write(w, resp)
		})
	}
}

// Fingerprint identifies a request by method, path, query and body.
func Fingerprint(r *http.Request, body []byte) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('\n')
	b.WriteString(r.URL.Path)
	b.WriteByte('\n')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('\n')
	b.WriteString(hashHex(body))
	return hashHex([]byte(b.String()))
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func release(ctx context.Context, store Store, key string) {
	if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
		requestctx.Logger(ctx).Warn("idempotency release failed", zap.Error(err))
	}
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	write(w, Response{Status: resp.Status, Body: resp.Body})
}

func write(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = values
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// recorder buffers the handler response so it can be stored before it is sent.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
