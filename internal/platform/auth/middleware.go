package auth

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/config"
)

// NewMiddleware builds the caller verification middleware selected by cfg.Mode.
// It returns nil for AuthModeNone. secrets resolves the HMAC key in hmac mode.
func NewMiddleware(cfg config.AuthConfig, secrets SecretProvider, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Mode {
	case config.AuthModeNone, "":
		return nil, nil
	case config.AuthModeOIDC:
		cache := NewJWKSCache(cfg.JWKSURL, WithJWKSLogger(logger))
		return NewOIDCValidator(cache).Require(cfg.Audience, cfg.Issuers), nil
	case config.AuthModeHMAC:
		if secrets == nil {
			return nil, fmt.Errorf("auth: hmac mode requires a secret provider")
		}
		validator := NewHMACValidator(secrets, nil, WithHMACClockSkew(cfg.HMACClockSkew))
		return validator.Require(cfg.HMACSecret), nil
	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", cfg.Mode)
	}
}
