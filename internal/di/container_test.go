package di

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/config"
	"github.com/hanko-field/orderledger/internal/services"
)

func memoryConfig() config.Config {
	return config.Config{
		Storage: config.StorageConfig{Backend: config.StorageBackendMemory},
		Ledger:  config.LedgerConfig{OrderNumberAttempts: 10, DefaultCurrency: "USD"},
		Telemetry: config.TelemetryConfig{
			Version:     "test",
			Environment: "test",
		},
	}
}

func sampleCommand() services.CreateOrderCommand {
	return services.CreateOrderCommand{
		StoreID:  "store_1",
		Email:    "buyer@example.com",
		Currency: "USD",
		Items: []services.CreateOrderItem{
			{ProductID: "stamp", Name: "Stamp", Quantity: 1, Price: decimal.NewFromInt(12)},
		},
	}
}

func TestNewContainerMemoryBackend(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, memoryConfig())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })

	order, err := c.Services.Orders.CreateOrder(ctx, sampleCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := c.Repositories.Orders().FindByID(ctx, order.ID); err != nil {
		t.Fatalf("order not persisted in registry: %v", err)
	}

	report, err := c.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "test" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestNewContainerRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "cassandra"
	if _, err := NewContainer(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestNewContainerPublishesToPubSub(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	admin, err := pubsub.NewClient(ctx, "ledger-test",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub client: %v", err)
	}
	t.Cleanup(func() { _ = admin.Close() })
	if _, err := admin.CreateTopic(ctx, "orders"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	cfg := memoryConfig()
	cfg.PubSub = config.PubSubConfig{ProjectID: "ledger-test", OrderTopic: "orders", EmulatorHost: srv.Addr}
	c, err := NewContainer(ctx, cfg)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })

	order, err := c.Services.Orders.CreateOrder(ctx, sampleCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(srv.Messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one published message, got %d", len(msgs))
	}
	if msgs[0].Attributes["orderId"] != order.ID || msgs[0].OrderingKey != order.ID {
		t.Fatalf("unexpected message attributes %+v ordering=%q", msgs[0].Attributes, msgs[0].OrderingKey)
	}

	report, err := c.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if check, ok := report.Checks["pubsub"]; !ok || check.Status != domain.HealthStatusOK {
		t.Fatalf("expected healthy pubsub check, got %+v", report.Checks)
	}
}
