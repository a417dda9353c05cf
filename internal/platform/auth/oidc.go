package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/requestctx"
)

// OIDCValidator verifies Google-signed ID tokens presented by calling services.
type OIDCValidator struct {
	cache   *JWKSCache
	metrics verificationMetrics
	now     func() time.Time
	leeway  time.Duration
}

// OIDCOption customises OIDCValidator.
type OIDCOption func(*OIDCValidator)

// WithOIDCClock overrides the time source used for expiry checks.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithOIDCMeter sets the meter recording verification outcomes.
func WithOIDCMeter(meter metric.Meter) OIDCOption {
	return func(v *OIDCValidator) { v.metrics = newVerificationMetrics(meter) }
}

// NewOIDCValidator constructs a validator backed by cache.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{cache: cache, now: time.Now, leeway: 30 * time.Second}
	v.metrics = newVerificationMetrics(nil)
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Require rejects requests without a valid bearer ID token for audience from one of issuers.
func (v *OIDCValidator) Require(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowed := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed = append(allowed, issuer)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()
			fail := func(status int, reason, code, message string) {
				v.metrics.record(ctx, "oidc", false, reason, v.now().Sub(start))
				requestctx.Logger(ctx).Info("caller verification failed", zap.String("method", "oidc"), zap.String("reason", reason))
				respondAuthError(ctx, w, status, code, message)
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				fail(http.StatusUnauthorized, "token_missing", "unauthenticated", "bearer token missing")
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithoutClaimsValidation())
			if _, err := parser.ParseWithClaims(token, claims, v.cache.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					fail(http.StatusServiceUnavailable, "jwks_unavailable", "verification_unavailable", "token keys unavailable")
					return
				}
				fail(http.StatusUnauthorized, "token_invalid", "invalid_token", "token verification failed")
				return
			}

			now := v.now()
			if !claims.VerifyExpiresAt(now.Add(-v.leeway).Unix(), true) {
				fail(http.StatusUnauthorized, "token_expired", "invalid_token", "token expired")
				return
			}
			if !claims.VerifyIssuedAt(now.Add(v.leeway).Unix(), false) {
				fail(http.StatusUnauthorized, "token_not_yet_valid", "invalid_token", "token issued in the future")
				return
			}
			issuer, _ := claims["iss"].(string)
			if len(allowed) > 0 && !slices.Contains(allowed, issuer) {
				fail(http.StatusUnauthorized, "issuer_mismatch", "invalid_token", "token issuer not accepted")
				return
			}
			if !claims.VerifyAudience(audience, true) {
				fail(http.StatusUnauthorized, "audience_mismatch", "invalid_token", "token audience mismatch")
				return
			}

			subject, _ := claims["sub"].(string)
			email, _ := claims["email"].(string)
			caller := &Caller{
				Method:  "oidc",
				Subject: subject,
				Email:   email,
				Issuer:  issuer,
				Claims:  map[string]any(claims),
			}
			v.metrics.record(ctx, "oidc", true, "ok", v.now().Sub(start))
			next.ServeHTTP(w, r.WithContext(WithCaller(ctx, caller)))
		})
	}
}
