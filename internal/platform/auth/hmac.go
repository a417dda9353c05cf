package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/requestctx"
)

const (
	// SignatureHeader carries the base64 or hex HMAC-SHA256 of the canonical request.
	SignatureHeader = "X-Ledger-Signature"
	// TimestampHeader carries the signing time as RFC 3339 or unix seconds.
	TimestampHeader = "X-Ledger-Timestamp"
	// NonceHeader carries a caller-chosen value that may be used once.
	NonceHeader = "X-Ledger-Nonce"

	defaultClockSkew   = 5 * time.Minute
	maxSignedBodyBytes = 1 << 20
)

// SecretProvider resolves the shared signing key by name or reference.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to SecretProvider.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// NonceStore remembers nonces until they expire.
type NonceStore interface {
	// UseNonce stores nonce and reports false when it was already used.
	UseNonce(ctx context.Context, nonce string, expiry time.Time) (bool, error)
}

// MemoryNonceStore is a process-local NonceStore.
type MemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NewMemoryNonceStore constructs an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
}

// UseNonce implements NonceStore.
func (s *MemoryNonceStore) UseNonce(_ context.Context, nonce string, expiry time.Time) (bool, error) {
	if nonce == "" {
		return false, errors.New("auth: nonce is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, exp := range s.nonces {
		if !now.Before(exp) {
			delete(s.nonces, key)
		}
	}
	if _, seen := s.nonces[nonce]; seen {
		return false, nil
	}
	s.nonces[nonce] = expiry
	return true, nil
}

// HMACValidator verifies requests signed with a shared key. The key is looked
// up on every request; caching belongs to the SecretProvider.
//
// The signed message is METHOD, escaped path, timestamp, nonce and the hex
// SHA-256 of the body, joined by newlines.
type HMACValidator struct {
	secrets   SecretProvider
	nonces    NonceStore
	metrics   verificationMetrics
	now       func() time.Time
	clockSkew time.Duration
}

// HMACOption customises HMACValidator.
type HMACOption func(*HMACValidator)

// WithHMACClock overrides the time source.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACClockSkew bounds the accepted distance between signing time and now.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACMeter sets the meter recording verification outcomes.
func WithHMACMeter(meter metric.Meter) HMACOption {
	return func(v *HMACValidator) { v.metrics = newVerificationMetrics(meter) }
}

// NewHMACValidator constructs a validator. A nil nonce store uses process memory
// sharing the validator clock.
func NewHMACValidator(secrets SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{secrets: secrets, nonces: nonces, now: time.Now, clockSkew: defaultClockSkew}
	v.metrics = newVerificationMetrics(nil)
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.nonces == nil {
		store := NewMemoryNonceStore()
		store.now = v.now
		v.nonces = store
	}
	return v
}

// Require rejects requests whose signature does not verify against the key named keyName.
func (v *HMACValidator) Require(keyName string) func(http.Handler) http.Handler {
	keyName = strings.TrimSpace(keyName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()
			fail := func(status int, reason, code, message string) {
				v.metrics.record(ctx, "hmac", false, reason, v.now().Sub(start))
				requestctx.Logger(ctx).Info("caller verification failed", zap.String("method", "hmac"), zap.String("reason", reason))
				respondAuthError(ctx, w, status, code, message)
			}

			key, err := v.signingKey(ctx, keyName)
			if err != nil {
				requestctx.Logger(ctx).Error("signing key unavailable", zap.Error(err))
				fail(http.StatusServiceUnavailable, "secret_unavailable", "verification_unavailable", "signing key unavailable")
				return
			}

			rawSignature := strings.TrimSpace(r.Header.Get(SignatureHeader))
			rawTimestamp := strings.TrimSpace(r.Header.Get(TimestampHeader))
			nonce := strings.TrimSpace(r.Header.Get(NonceHeader))
			if rawSignature == "" || rawTimestamp == "" || nonce == "" {
				fail(http.StatusUnauthorized, "headers_missing", "signature_missing", "signature headers missing")
				return
			}
			signedAt, err := parseTimestamp(rawTimestamp)
			if err != nil {
				fail(http.StatusUnauthorized, "timestamp_invalid", "timestamp_invalid", "signature timestamp invalid")
				return
			}
			if skew := v.now().Sub(signedAt); skew > v.clockSkew || skew < -v.clockSkew {
				fail(http.StatusUnauthorized, "timestamp_skew", "timestamp_skew", "signature timestamp outside allowed window")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				fail(http.StatusBadRequest, "body_unreadable", "invalid_request", "unable to read request body")
				return
			}
			signature, err := decodeSignature(rawSignature)
			if err != nil {
				fail(http.StatusUnauthorized, "signature_invalid", "signature_invalid", "signature encoding invalid")
				return
			}
			if !hmac.Equal(signature, Sign(key, r.Method, r.URL.EscapedPath(), rawTimestamp, nonce, body)) {
				fail(http.StatusUnauthorized, "signature_mismatch", "signature_mismatch", "signature verification failed")
				return
			}

			fresh, err := v.nonces.UseNonce(ctx, nonce, signedAt.Add(2*v.clockSkew))
			if err != nil {
				requestctx.Logger(ctx).Error("nonce store error", zap.Error(err))
				fail(http.StatusServiceUnavailable, "nonce_store_error", "verification_unavailable", "nonce storage error")
				return
			}
			if !fresh {
				fail(http.StatusUnauthorized, "nonce_replay", "nonce_replay", "signature nonce already used")
				return
			}

			v.metrics.record(ctx, "hmac", true, "ok", v.now().Sub(start))
			next.ServeHTTP(w, r.WithContext(WithCaller(ctx, &Caller{Method: "hmac", KeyName: keyLabel(keyName)})))
		})
	}
}

func (v *HMACValidator) signingKey(ctx context.Context, name string) ([]byte, error) {
	if name == "" || v.secrets == nil {
		return nil, errors.New("auth: signing key not configured")
	}
	raw, err := v.secrets.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: signing key is empty")
	}
	return []byte(raw), nil
}

// keyLabel names the key for logs without exposing literal key material.
func keyLabel(name string) string {
	if strings.Contains(name, "://") {
		return name
	}
	return "static"
}

// Sign computes the request signature for the given parts. Callers use it to sign outbound requests.
func Sign(key []byte, method, path, timestamp, nonce string, body []byte) []byte {
	if path == "" {
		path = "/"
	}
	sum := sha256.Sum256(body)
	message := strings.Join([]string{strings.ToUpper(method), path, timestamp, nonce, hex.EncodeToString(sum[:])}, "\n")
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(message))
	return mac.Sum(nil)
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxSignedBodyBytes {
		return nil, errors.New("auth: body too large to verify")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64")
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}
