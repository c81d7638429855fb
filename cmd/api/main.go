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

	"github.com/eventops/fulfillment/internal/di"
	"github.com/eventops/fulfillment/internal/handlers"
	"github.com/eventops/fulfillment/internal/platform/auth"
	"github.com/eventops/fulfillment/internal/platform/config"
	"github.com/eventops/fulfillment/internal/platform/idempotency"
	"github.com/eventops/fulfillment/internal/platform/observability"
	"github.com/eventops/fulfillment/internal/platform/secrets"
	"github.com/eventops/fulfillment/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fulfillment api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	baseLogger, err := observability.NewLogger(envValues["FULFILLMENT_LOG_LEVEL"])
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	build := services.BuildInfo{
		Version:     cfg.Server.Version,
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	}

	container, err := di.NewContainer(ctx, cfg, di.WithLogger(baseLogger), di.WithBuildInfo(build))
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	router, err := buildRouter(ctx, logger, cfg, container, build)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
		serverLogger.Info("fulfillment api listening", zap.String("version", build.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		runIdempotencyCleanup(groupCtx, logger.Named("idempotency"), container.Idempotency, cfg.Idempotency)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func buildRouter(ctx context.Context, logger *zap.Logger, cfg config.Config, container *di.Container, build services.BuildInfo) (http.Handler, error) {
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	serviceVerifier := auth.NewServiceVerifier(auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL), logger)

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	svc := container.Services
	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(container.Metrics),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithAPIMiddlewares(
			authenticator.RequireUser(),
			handlers.WriteRateLimit(cfg.Server.WriteRateLimit, cfg.Server.WriteRateWindow, time.Now),
			idempotencyMiddleware,
		),
		handlers.WithRoutes(
			handlers.NewOrderHandlers(svc.Orders).Routes,
			handlers.NewPricingHandlers(svc.Pricing, svc.Rates).Routes,
			handlers.NewLineItemHandlers(svc.LineItems).Routes,
			handlers.NewBookingHandlers(svc.Bookings).Routes,
			handlers.NewReskinHandlers(svc.Reskins).Routes,
		),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Rates).Routes),
		handlers.WithInternalMiddlewares(serviceVerifier.RequireService(cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers)),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, handlers.WithMetricsHandler(cfg.Metrics.Path, container.Metrics.Handler()))
	}
	return handlers.NewRouter(opts...), nil
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	if store == nil || cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("FULFILLMENT_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("FULFILLMENT_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger),
		secrets.WithProject(project),
	}
	if path := lookup("FULFILLMENT_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if ttl, err := time.ParseDuration(lookup("FULFILLMENT_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentials := lookup("FULFILLMENT_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields that must resolve to a value. The DSN is
// only required when Postgres is the storage driver, the Redis password only when one is set.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	driver := strings.ToLower(strings.TrimSpace(env["FULFILLMENT_STORAGE_DRIVER"]))
	if driver == "" || driver == config.StorageDriverPostgres {
		required = append(required, "Postgres.DSN")
	}
	if strings.TrimSpace(env["FULFILLMENT_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}
