package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultAddress             = ":8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultStorageBackend      = StorageBackendMemory
	defaultOrderNumberAttempts = 10
	defaultCurrency            = "USD"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyCleanup  = 15 * time.Minute
	defaultServiceName         = "orderledger"
	defaultEnvironment         = "local"
	defaultLogLevel            = "info"
	defaultAuthMode            = AuthModeNone
	defaultAuthIssuer          = "https://accounts.google.com"
	defaultJWKSURL             = "https://www.googleapis.com/oauth2/v3/certs"
	defaultHMACClockSkew       = 5 * time.Minute
	defaultSecretsFallbackFile = ".secrets.local"
)

const (
	// StorageBackendMemory keeps orders in process memory.
	StorageBackendMemory = "memory"
	// StorageBackendFirestore persists orders in Cloud Firestore.
	StorageBackendFirestore = "firestore"
)

const (
	// AuthModeNone leaves the API unauthenticated, for local use.
	AuthModeNone = "none"
	// AuthModeOIDC requires a Google-signed ID token from the calling service.
	AuthModeOIDC = "oidc"
	// AuthModeHMAC requires requests signed with a shared secret.
	AuthModeHMAC = "hmac"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Ledger      LedgerConfig
	Idempotency IdempotencyConfig
	Auth        AuthConfig
	Secrets     SecretsConfig
	Telemetry   TelemetryConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig selects the order repository implementation.
type StorageConfig struct {
	Backend string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures order event publication. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID    string
	OrderTopic   string
	EmulatorHost string
}

// LedgerConfig tunes order ledger behaviour.
type LedgerConfig struct {
	OrderNumberAttempts int
	DefaultCurrency     string
}

// IdempotencyConfig controls replay protection on mutating endpoints.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// AuthConfig selects how calling services authenticate against /api/v1.
type AuthConfig struct {
	Mode          string
	Audience      string
	Issuers       []string
	JWKSURL       string
	HMACSecret    string
	HMACClockSkew time.Duration
}

// SecretsConfig locates Secret Manager values referenced as secret://name.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// TelemetryConfig names the service in logs and traces.
type TelemetryConfig struct {
	ServiceName string
	Environment string
	Version     string
	LogLevel    string
}

// Option customises how configuration is loaded.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles configuration from defaults, the .env file, the process
// environment and explicit overrides, in increasing precedence.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	if path, ok := os.LookupEnv("LEDGER_ENV_FILE"); ok {
		options.envFile = path
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	firestoreProject := stringWithDefault(lookup, "LEDGER_FIRESTORE_PROJECT_ID", stringWithDefault(lookup, "GOOGLE_CLOUD_PROJECT", ""))

	cfg := Config{
		Server: ServerConfig{
			Address:         stringWithDefault(lookup, "LEDGER_HTTP_ADDRESS", defaultAddress),
			ReadTimeout:     durationWithDefault(lookup, "LEDGER_HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "LEDGER_HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "LEDGER_HTTP_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "LEDGER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "LEDGER_STORAGE_BACKEND", defaultStorageBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    firestoreProject,
			EmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:    stringWithDefault(lookup, "LEDGER_PUBSUB_PROJECT_ID", firestoreProject),
			OrderTopic:   stringWithDefault(lookup, "LEDGER_PUBSUB_ORDER_TOPIC", ""),
			EmulatorHost: stringWithDefault(lookup, "PUBSUB_EMULATOR_HOST", ""),
		},
		Ledger: LedgerConfig{
			OrderNumberAttempts: intWithDefault(lookup, "LEDGER_ORDER_NUMBER_ATTEMPTS", defaultOrderNumberAttempts),
			DefaultCurrency:     strings.ToUpper(stringWithDefault(lookup, "LEDGER_DEFAULT_CURRENCY", defaultCurrency)),
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "LEDGER_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             durationWithDefault(lookup, "LEDGER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: durationWithDefault(lookup, "LEDGER_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
		},
		Auth: AuthConfig{
			Mode:          strings.ToLower(stringWithDefault(lookup, "LEDGER_AUTH_MODE", defaultAuthMode)),
			Audience:      stringWithDefault(lookup, "LEDGER_AUTH_AUDIENCE", ""),
			Issuers:       listWithDefault(lookup, "LEDGER_AUTH_ISSUERS", []string{defaultAuthIssuer}),
			JWKSURL:       stringWithDefault(lookup, "LEDGER_AUTH_JWKS_URL", defaultJWKSURL),
			HMACSecret:    stringWithDefault(lookup, "LEDGER_AUTH_HMAC_SECRET", ""),
			HMACClockSkew: durationWithDefault(lookup, "LEDGER_AUTH_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "LEDGER_SECRETS_PROJECT_ID", firestoreProject),
			FallbackFile: stringWithDefault(lookup, "LEDGER_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
		Telemetry: TelemetryConfig{
			ServiceName: stringWithDefault(lookup, "LEDGER_SERVICE_NAME", defaultServiceName),
			Environment: stringWithDefault(lookup, "LEDGER_ENVIRONMENT", defaultEnvironment),
			Version:     stringWithDefault(lookup, "LEDGER_VERSION", "dev"),
			LogLevel:    strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if strings.TrimSpace(cfg.Server.Address) == "" {
		invalid = append(invalid, "Server.Address")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		invalid = append(invalid, "Server.ShutdownTimeout")
	}
	switch cfg.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	default:
		invalid = append(invalid, "Storage.Backend")
	}
	if cfg.PubSub.OrderTopic != "" && cfg.PubSub.ProjectID == "" {
		invalid = append(invalid, "PubSub.ProjectID")
	}
	if cfg.Ledger.OrderNumberAttempts <= 0 {
		invalid = append(invalid, "Ledger.OrderNumberAttempts")
	}
	if len(cfg.Ledger.DefaultCurrency) != 3 {
		invalid = append(invalid, "Ledger.DefaultCurrency")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval < 0 {
		invalid = append(invalid, "Idempotency.CleanupInterval")
	}
	switch cfg.Auth.Mode {
	case AuthModeNone:
	case AuthModeOIDC:
		if strings.TrimSpace(cfg.Auth.Audience) == "" {
			invalid = append(invalid, "Auth.Audience")
		}
		if strings.TrimSpace(cfg.Auth.JWKSURL) == "" {
			invalid = append(invalid, "Auth.JWKSURL")
		}
	case AuthModeHMAC:
		if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
			invalid = append(invalid, "Auth.HMACSecret")
		}
	default:
		invalid = append(invalid, "Auth.Mode")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func listWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
