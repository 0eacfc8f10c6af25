package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/tshirt-shop/storefront/internal/catalog"
	"github.com/tshirt-shop/storefront/internal/handlers"
	"github.com/tshirt-shop/storefront/internal/payments"
	"github.com/tshirt-shop/storefront/internal/platform/config"
	"github.com/tshirt-shop/storefront/internal/platform/observability"
	"github.com/tshirt-shop/storefront/internal/platform/secrets"
	"github.com/tshirt-shop/storefront/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storefront: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	lookup, err := config.Lookup()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, lookup)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Error("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	products, err := catalog.Load(cfg.Shop.CatalogFile)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	eventLogger := observability.EventLogger(logger.Named("checkout"))

	var processor payments.IntentCreator
	if cfg.PSP.Configured() {
		provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			SecretKey: cfg.PSP.SecretKey,
			Logger:    payments.StripeLogger(eventLogger),
		})
		if err != nil {
			return fmt.Errorf("initialise stripe provider: %w", err)
		}
		processor = provider
	} else {
		logger.Warn("stripe secret key not configured; checkout will report the processor as unavailable")
	}
	if strings.TrimSpace(cfg.PSP.PublishableKey) == "" {
		logger.Warn("stripe publishable key not configured; clients cannot confirm payments")
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Processor: processor,
		Currency:  cfg.PSP.Currency,
		Logger:    eventLogger,
	})
	if err != nil {
		return fmt.Errorf("initialise checkout service: %w", err)
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo(lookup, cfg, startedAt)),
		handlers.WithReadinessCheck("payments", func(context.Context) error {
			if !cfg.PSP.Configured() {
				return errors.New("stripe secret key not configured")
			}
			return nil
		}),
		handlers.WithReadinessCheck("catalog", func(context.Context) error {
			if len(products.Products()) == 0 {
				return errors.New("catalog is empty")
			}
			return nil
		}),
	)

	router := handlers.NewRouter(
		handlers.WithBasePath(cfg.Server.APIPrefix),
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Secrets.ProjectID),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(checkoutService).Routes),
		handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(products).Routes),
		handlers.WithClientConfigRoutes(handlers.NewClientConfigHandlers(cfg.PSP.PublishableKey, cfg.PSP.Currency).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		serverLogger.Info("storefront api listening", zap.String("api_prefix", cfg.Server.APIPrefix))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		return nil
	})
	return group.Wait()
}

func buildInfo(lookup func(string) (string, bool), cfg config.Config, started time.Time) handlers.BuildInfo {
	value := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}
	return handlers.BuildInfo{
		Version:     value("STOREFRONT_BUILD_VERSION", "dev"),
		CommitSHA:   value("STOREFRONT_BUILD_COMMIT_SHA", "unknown"),
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, lookup func(string) (string, bool)) (*secrets.Fetcher, error) {
	value := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	fallbackPath := value("STOREFRONT_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectID := value("STOREFRONT_SECRETS_PROJECT_ID"); projectID != "" {
		opts = append(opts, secrets.WithDefaultProject(projectID))
	}
	if credentialsFile := value("STOREFRONT_SECRETS_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
