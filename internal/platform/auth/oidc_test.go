package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const testAudience = "https://ledger.example.com"

type oidcFixture struct {
	key      *rsa.PrivateKey
	now      time.Time
	requests *atomic.Int32
	cache    *JWKSCache
}

func newOIDCFixture(t *testing.T) *oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fx := &oidcFixture{key: key, now: time.Unix(1_750_000_000, 0), requests: &atomic.Int32{}}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "key1", Algorithm: "RS256", Use: "sig"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fx.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)
	fx.cache = NewJWKSCache(server.URL,
		WithJWKSClock(func() time.Time { return fx.now }),
		WithoutJWKSBackgroundRefresh(),
	)
	return fx
}

func (fx *oidcFixture) token(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   testAudience,
		"sub":   "1234567890",
		"email": "checkout@project.iam.gserviceaccount.com",
		"iat":   fx.now.Unix(),
		"exp":   fx.now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key1"
	signed, err := token.SignedString(fx.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (fx *oidcFixture) serve(t *testing.T, authz string) (*httptest.ResponseRecorder, *Caller) {
	t.Helper()
	validator := NewOIDCValidator(fx.cache, WithOIDCClock(func() time.Time { return fx.now }))
	var caller *Caller
	handler := validator.Require(testAudience, []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _ = CallerFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, caller
}

func TestJWKSCacheReusesKeys(t *testing.T) {
	fx := newOIDCFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		key, err := fx.cache.Key(ctx, "key1")
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", key)
		}
	}
	if got := fx.requests.Load(); got != 1 {
		t.Fatalf("expected one jwks fetch, got %d", got)
	}

	fx.now = fx.now.Add(2 * time.Hour)
	if _, err := fx.cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if got := fx.requests.Load(); got != 2 {
		t.Fatalf("expected refetch after max-age, got %d", got)
	}
}

func TestJWKSCacheUnknownKey(t *testing.T) {
	fx := newOIDCFixture(t)
	if _, err := fx.cache.Key(context.Background(), "other"); err == nil {
		t.Fatalf("expected unknown kid error")
	}
}

func TestOIDCRequireAcceptsValidToken(t *testing.T) {
	fx := newOIDCFixture(t)
	rr, caller := fx.serve(t, "Bearer "+fx.token(t, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if caller == nil || caller.Method != "oidc" || caller.Email != "checkout@project.iam.gserviceaccount.com" {
		t.Fatalf("unexpected caller %+v", caller)
	}
}

func TestOIDCRequireRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(jwt.MapClaims)
		authz  func(fx *oidcFixture, token string) string
	}{
		{name: "missing token", authz: func(*oidcFixture, string) string { return "" }},
		{name: "wrong scheme", authz: func(_ *oidcFixture, token string) string { return "Basic " + token }},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "https://other.example.com" }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Unix(1_750_000_000, 0).Add(-time.Hour).Unix() }},
		{name: "tampered", authz: func(_ *oidcFixture, token string) string { return "Bearer " + token + "x" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newOIDCFixture(t)
			token := fx.token(t, tc.mutate)
			authz := "Bearer " + token
			if tc.authz != nil {
				authz = tc.authz(fx, token)
			}
			rr, caller := fx.serve(t, authz)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d: %s", rr.Code, rr.Body.String())
			}
			if caller != nil {
				t.Fatalf("handler should not run")
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("expected WWW-Authenticate header")
			}
		})
	}
}

func TestOIDCRequireJWKSUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	fx := newOIDCFixture(t)
	fx.cache = NewJWKSCache(server.URL, WithoutJWKSBackgroundRefresh())
	rr, _ := fx.serve(t, "Bearer "+fx.token(t, nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
