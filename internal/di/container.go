// Package di assembles repositories, services and publishers for the ledger process.
package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/orderledger/internal/platform/config"
	"github.com/hanko-field/orderledger/internal/platform/events"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	"github.com/hanko-field/orderledger/internal/repositories"
	firestoreRepo "github.com/hanko-field/orderledger/internal/repositories/firestore"
	"github.com/hanko-field/orderledger/internal/repositories/memory"
	"github.com/hanko-field/orderledger/internal/services"
)

const pubsubProbeTimeout = 3 * time.Second

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders services.OrderService
	System services.SystemService
}

// Container wires repositories, services and event publication for runtime use.
type Container struct {
	Config            config.Config
	Repositories      repositories.Registry
	Services          Services
	Build             services.BuildInfo
	FirestoreProvider *pfirestore.Provider

	pubsubClient *pubsub.Client
	orderTopic   *pubsub.Topic
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger   *zap.Logger
	registry repositories.Registry
	clock    func() time.Time
}

// WithLogger sets the base logger used for service event logs.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithRegistry bypasses backend selection and uses the supplied registry.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) { o.registry = reg }
}

// WithClock overrides the service clock.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies for the configured storage backend.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	c := &Container{Config: cfg}

	var checks []repositories.DependencyCheck
	var publisher services.OrderEventPublisher
	if topicID := strings.TrimSpace(cfg.PubSub.OrderTopic); topicID != "" {
		if err := c.openPubSub(ctx, cfg.PubSub); err != nil {
			return nil, err
		}
		pub, err := events.NewPubSubOrderPublisher(c.orderTopic)
		if err != nil {
			_ = c.closePubSub()
			return nil, fmt.Errorf("build order publisher: %w", err)
		}
		publisher = pub
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: pubsubProbeTimeout,
			Check:   c.probeTopic,
		})
	}

	reg := options.registry
	if reg == nil {
		var err error
		reg, err = c.buildRegistry(cfg, checks)
		if err != nil {
			_ = c.closePubSub()
			return nil, err
		}
	}
	c.Repositories = reg

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:              reg.Orders(),
		OrderNumberAttempts: cfg.Ledger.OrderNumberAttempts,
		UnitOfWork:          reg,
		Clock:               options.clock,
		Events:              publisher,
		Logger:              observability.EventLogger(options.logger.Named("orders")),
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build order service: %w", err)
	}

	c.Build = services.BuildInfo{
		Version:     cfg.Telemetry.Version,
		Environment: cfg.Telemetry.Environment,
		StartedAt:   options.clock().UTC(),
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            options.clock,
		Build:            c.Build,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build system service: %w", err)
	}

	c.Services = Services{Orders: orders, System: system}
	return c, nil
}

func (c *Container) buildRegistry(cfg config.Config, checks []repositories.DependencyCheck) (repositories.Registry, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendFirestore:
		c.FirestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestoreRepo.NewRegistry(c.FirestoreProvider, checks...)
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, nil
	case config.StorageBackendMemory, "":
		reg, err := memory.NewRegistry(checks...)
		if err != nil {
			return nil, fmt.Errorf("build memory registry: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func (c *Container) openPubSub(ctx context.Context, cfg config.PubSubConfig) error {
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("build pubsub client: %w", err)
	}
	c.pubsubClient = client
	c.orderTopic = client.Topic(strings.TrimSpace(cfg.OrderTopic))
	c.orderTopic.EnableMessageOrdering = true
	return nil
}

func (c *Container) probeTopic(ctx context.Context) error {
	if c.orderTopic == nil {
		return errors.New("order topic not configured")
	}
	ok, err := c.orderTopic.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("topic %s does not exist", c.orderTopic.ID())
	}
	return nil
}

func (c *Container) closePubSub() error {
	if c.orderTopic != nil {
		c.orderTopic.Stop()
		c.orderTopic = nil
	}
	if c.pubsubClient == nil {
		return nil
	}
	err := c.pubsubClient.Close()
	c.pubsubClient = nil
	return err
}

// Close flushes pending events and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if err := c.closePubSub(); err != nil {
		errs = append(errs, fmt.Errorf("close pubsub: %w", err))
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}
