package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/di"
	"github.com/hanko-field/orderledger/internal/handlers"
	"github.com/hanko-field/orderledger/internal/platform/auth"
	"github.com/hanko-field/orderledger/internal/platform/config"
	"github.com/hanko-field/orderledger/internal/platform/idempotency"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	"github.com/hanko-field/orderledger/internal/platform/secrets"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("ledger")

	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	resolver, err := secrets.NewResolver(ctx,
		secrets.WithProject(cfg.Secrets.ProjectID),
		secrets.WithFallbackFile(cfg.Secrets.FallbackFile),
		secrets.WithLogger(logger.Named("secrets")),
	)
	if err != nil {
		logger.Fatal("failed to build secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	authMiddleware, err := auth.NewMiddleware(cfg.Auth, resolver, logger.Named("auth"))
	if err != nil {
		logger.Fatal("failed to configure caller verification", zap.Error(err))
	}

	var idempotencyStore idempotency.Store
	if container.FirestoreProvider != nil {
		idempotencyStore = idempotency.NewFirestoreStore(container.FirestoreProvider, "")
	} else {
		idempotencyStore = idempotency.NewMemoryStore()
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithScope(auth.CallerScope),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		ticker := time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			defer ticker.Stop()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-ticker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.Purge(runCtx, time.Now().UTC())
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.Services.System),
		handlers.WithHealthBuildInfo(container.Build),
	)
	orders := handlers.NewOrderHandlers(container.Services.Orders,
		handlers.WithDefaultCurrency(cfg.Ledger.DefaultCurrency),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithAPIMiddlewares(authMiddleware, idempotencyMiddleware),
		handlers.WithAPIRoutes(orders.Routes),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("order ledger listening",
			zap.String("addr", cfg.Server.Address),
			zap.String("storage", cfg.Storage.Backend),
			zap.Bool("events", cfg.PubSub.OrderTopic != ""),
			zap.String("auth", cfg.Auth.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("server stopped")
	}
}
