package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testKey = "shared-signing-key"

type hmacFixture struct {
	now     time.Time
	handler http.Handler
	bodies  []string
	callers []*Caller
}

func newHMACFixture(t *testing.T, provider SecretProvider) *hmacFixture {
	t.Helper()
	fx := &hmacFixture{now: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)}
	if provider == nil {
		provider = SecretProviderFunc(func(context.Context, string) (string, error) { return testKey, nil })
	}
	validator := NewHMACValidator(provider, nil, WithHMACClock(func() time.Time { return fx.now }))
	fx.handler = validator.Require("secret://ledger-hmac")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fx.bodies = append(fx.bodies, string(body))
		caller, _ := CallerFromContext(r.Context())
		fx.callers = append(fx.callers, caller)
		w.WriteHeader(http.StatusCreated)
	}))
	return fx
}

func signedRequest(at time.Time, nonce, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	ts := strconv.FormatInt(at.Unix(), 10)
	sig := Sign([]byte(testKey), http.MethodPost, "/api/v1/orders", ts, nonce, []byte(body))
	req.Header.Set(SignatureHeader, hex.EncodeToString(sig))
	req.Header.Set(TimestampHeader, ts)
	req.Header.Set(NonceHeader, nonce)
	return req
}

func (fx *hmacFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	fx.handler.ServeHTTP(rr, req)
	return rr
}

func TestHMACRequireAcceptsSignedRequest(t *testing.T) {
	fx := newHMACFixture(t, nil)
	rr := fx.do(signedRequest(fx.now, "n-1", `{"store_id":"s"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(fx.bodies) != 1 || fx.bodies[0] != `{"store_id":"s"}` {
		t.Fatalf("expected body to be restored for the handler, got %v", fx.bodies)
	}
	if fx.callers[0] == nil || fx.callers[0].Method != "hmac" || fx.callers[0].KeyName != "secret://ledger-hmac" {
		t.Fatalf("unexpected caller %+v", fx.callers[0])
	}
}

func TestHMACRequireRejectsReplay(t *testing.T) {
	fx := newHMACFixture(t, nil)
	if rr := fx.do(signedRequest(fx.now, "n-1", "{}")); rr.Code != http.StatusCreated {
		t.Fatalf("first request: %d", rr.Code)
	}
	rr := fx.do(signedRequest(fx.now, "n-1", "{}"))
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "nonce_replay") {
		t.Fatalf("expected nonce_replay, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHMACRequireRejections(t *testing.T) {
	cases := []struct {
		name string
		req  func(now time.Time) *http.Request
		code string
	}{
		{"missing headers", func(time.Time) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
		}, "signature_missing"},
		{"stale timestamp", func(now time.Time) *http.Request {
			return signedRequest(now.Add(-10*time.Minute), "n-2", "{}")
		}, "timestamp_skew"},
		{"body altered", func(now time.Time) *http.Request {
			req := signedRequest(now, "n-3", "{}")
			req.Body = io.NopCloser(strings.NewReader(`{"amount":"1"}`))
			return req
		}, "signature_mismatch"},
		{"bad encoding", func(now time.Time) *http.Request {
			req := signedRequest(now, "n-4", "{}")
			req.Header.Set(SignatureHeader, "!!")
			return req
		}, "signature_invalid"},
		{"bad timestamp", func(now time.Time) *http.Request {
			req := signedRequest(now, "n-5", "{}")
			req.Header.Set(TimestampHeader, "yesterday")
			return req
		}, "timestamp_invalid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newHMACFixture(t, nil)
			rr := fx.do(tc.req(fx.now))
			if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), tc.code) {
				t.Fatalf("expected 401 %s, got %d %s", tc.code, rr.Code, rr.Body.String())
			}
			if len(fx.bodies) != 0 {
				t.Fatalf("handler should not run")
			}
		})
	}
}

func TestHMACRequireSecretUnavailable(t *testing.T) {
	fx := newHMACFixture(t, SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("secret manager down")
	}))
	rr := fx.do(signedRequest(fx.now, "n-1", "{}"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestKeyLabelHidesLiteralKeys(t *testing.T) {
	if keyLabel("plain-key-material") != "static" {
		t.Fatalf("literal key must not be exposed")
	}
	if keyLabel("sm://ledger-hmac") != "sm://ledger-hmac" {
		t.Fatalf("references should be kept")
	}
}
