// Package secrets resolves secret://name references against Google Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCacheTTL = 10 * time.Minute
	meterName       = "github.com/hanko-field/orderledger/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the reference.
var ErrNotFound = errors.New("secrets: value not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Client is the subset of the Secret Manager client used by Resolver.
type Client interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver fetches secret values with caching and a local fallback file for development.
type Resolver struct {
	client     Client
	ownsClient bool
	project    string
	logger     *zap.Logger
	now        func() time.Time
	cacheTTL   time.Duration
	retry      []gax.CallOption

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.RWMutex
	cache map[string]cacheEntry

	lookups metric.Int64Counter
	latency metric.Float64Histogram
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

type resolverConfig struct {
	client       Client
	clientOpts   []option.ClientOption
	project      string
	logger       *zap.Logger
	now          func() time.Time
	cacheTTL     time.Duration
	fallbackPath string
	meter        metric.Meter
}

// Option customises Resolver construction.
type Option func(*resolverConfig)

// WithClient injects a Secret Manager client. The resolver does not close injected clients.
func WithClient(client Client) Option {
	return func(cfg *resolverConfig) { cfg.client = client }
}

// WithClientOptions forwards options used when the resolver creates its own client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *resolverConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// WithProject sets the project used for references without ?project=.
func WithProject(projectID string) Option {
	return func(cfg *resolverConfig) { cfg.project = strings.TrimSpace(projectID) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *resolverConfig) { cfg.logger = logger }
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(cfg *resolverConfig) { cfg.now = now }
}

// WithCacheTTL bounds how long a fetched value is reused before Secret Manager is asked again.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *resolverConfig) { cfg.cacheTTL = ttl }
}

// WithFallbackFile sets the KEY=value file consulted when Secret Manager is unreachable.
func WithFallbackFile(path string) Option {
	return func(cfg *resolverConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects the meter used for lookup metrics.
func WithMeter(meter metric.Meter) Option {
	return func(cfg *resolverConfig) { cfg.meter = meter }
}

// NewResolver builds a Resolver. A Secret Manager client that cannot be created leaves the
// resolver in fallback-only mode.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	cfg := resolverConfig{logger: zap.NewNop(), now: time.Now, cacheTTL: defaultCacheTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	r := &Resolver{
		project:      cfg.project,
		logger:       cfg.logger,
		now:          cfg.now,
		cacheTTL:     cfg.cacheTTL,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cacheEntry),
		retry: []gax.CallOption{
			gax.WithRetry(func() gax.Retryer {
				return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
					Initial:    100 * time.Millisecond,
					Max:        2 * time.Second,
					Multiplier: 2,
				})
			}),
		},
	}

	var err error
	if r.lookups, err = cfg.meter.Int64Counter("ledger.secrets.lookups",
		metric.WithDescription("Secret lookups by source")); err != nil {
		return nil, fmt.Errorf("secrets: lookup counter: %w", err)
	}
	if r.latency, err = cfg.meter.Float64Histogram("ledger.secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of Secret Manager fetches")); err != nil {
		return nil, fmt.Errorf("secrets: latency histogram: %w", err)
	}

	switch {
	case cfg.client != nil:
		r.client = cfg.client
	case r.project != "":
		client, err := newSecretManagerClient(ctx, cfg.clientOpts...)
		if err != nil {
			r.logger.Warn("secret manager client unavailable; using fallback file only", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// IsReference reports whether value names a secret rather than holding one.
func IsReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

// Value returns raw unchanged unless it is a secret reference, in which case it is resolved.
func (r *Resolver) Value(ctx context.Context, raw string) (string, error) {
	if !IsReference(raw) {
		return raw, nil
	}
	return r.Resolve(ctx, raw)
}

// GetSecret resolves name, allowing the resolver to back request signature checks.
func (r *Resolver) GetSecret(ctx context.Context, name string) (string, error) {
	return r.Value(ctx, name)
}

// Resolve fetches the value for a secret://name[?version=N&project=P] reference.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.cacheKey()

	if value, ok := r.cached(key); ok {
		r.count(ctx, parsed, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = r.project
	}
	if r.client != nil && project != "" {
		value, err := r.fetch(ctx, project, parsed)
		if err == nil {
			r.store(key, value)
			r.count(ctx, parsed, "secret_manager")
			return value, nil
		}
		if !fallbackEligible(err) {
			r.count(ctx, parsed, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.canonical, err)
		}
		r.logger.Debug("secret manager unavailable; trying fallback file", zap.String("secret", mask(parsed.canonical)), zap.Error(err))
	}

	value, ok := r.lookupFallback(parsed)
	if !ok {
		r.count(ctx, parsed, "error")
		return "", fmt.Errorf("%w: %s", ErrNotFound, parsed.canonical)
	}
	r.store(key, value)
	r.count(ctx, parsed, "fallback")
	return value, nil
}

// Invalidate drops cached values for ref so the next Resolve refetches it.
func (r *Resolver) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	prefix := parsed.canonical + "#"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r == nil || !r.ownsClient || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Resolver) fetch(ctx context.Context, project string, ref reference) (string, error) {
	start := r.now()
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.secret, ref.version)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, r.retry...)
	r.latency.Record(ctx, float64(r.now().Sub(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("code", status.Code(err).String())))
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) cached(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || (!entry.expiresAt.IsZero() && !r.now().Before(entry.expiresAt)) {
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) store(key, value string) {
	entry := cacheEntry{value: value}
	if r.cacheTTL > 0 {
		entry.expiresAt = r.now().Add(r.cacheTTL)
	}
	r.mu.Lock()
	r.cache[key] = entry
	r.mu.Unlock()
}

func (r *Resolver) count(ctx context.Context, ref reference, source string) {
	r.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("secret", mask(ref.canonical)),
	))
}

func (r *Resolver) lookupFallback(ref reference) (string, bool) {
	r.fallbackOnce.Do(r.loadFallback)
	if value, ok := r.fallback[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := r.fallback[ref.canonical]
	return value, ok
}

func (r *Resolver) loadFallback() {
	r.fallback = map[string]string{}
	if r.fallbackPath == "" {
		return
	}
	path, err := filepath.Abs(r.fallbackPath)
	if err != nil {
		path = r.fallbackPath
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("unable to open secrets fallback file", zap.String("path", path), zap.Error(err))
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parsed, err := parseReference(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		r.fallback[parsed.canonical] = value
		r.fallback[parsed.cacheKey()] = value
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("failed reading secrets fallback file", zap.String("path", path), zap.Error(err))
	}
}

type reference struct {
	canonical string
	secret    string
	version   string
	project   string
}

func (r reference) cacheKey() string {
	return r.canonical + "#" + r.version
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, errors.New("secrets: missing secret name")
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		canonical: "secret://" + name,
		secret:    name,
		version:   version,
		project:   strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func mask(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:6])
}
