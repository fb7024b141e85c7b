package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/secrets"
	"github.com/storefront/api/internal/services"
)

const (
	meterName               = "github.com/storefront/api"
	tokenVerifyTimeout      = 5 * time.Second
	shutdownTimeout         = 10 * time.Second
	containerCloseTimeout   = 5 * time.Second
	defaultSecretsCacheTTL  = 5 * time.Minute
	defaultEnvironmentLabel = "local"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)
	meter := otel.GetMeterProvider().Meter(meterName)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(resolver.ResolveSecret)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger.Named("services")),
		di.WithMeter(meter),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), containerCloseTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore, err := newIdempotencyStore(ctx, container)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
		idempotency.WithMeter(meter),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval,
				cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"), time.Now)
		}()
	}

	authenticator := newAuthenticator(ctx, logger.Named("auth"), cfg)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	mutationOpts := []handlers.MutationOption{
		handlers.WithRateLimit(cfg.RateLimits.PurchasesPerMinute, cfg.RateLimits.PurchasesBurst),
		handlers.WithIdempotency(idempotencyMiddleware),
	}
	svc := container.Services
	purchaseHandlers := handlers.NewPurchaseHandlers(authenticator, svc.Purchases, mutationOpts...)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, mutationOpts...)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Purchases, svc.Orders)
	internalHandlers := handlers.NewInternalHandlers(svc.Purchases, svc.Stock)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		observability.MetricsMiddleware(meter),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPurchaseRoutes(purchaseHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("stock", cfg.Stock.Backend),
	)
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = defaultEnvironmentLabel
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newIdempotencyStore keeps idempotency records next to the rest of the data.
func newIdempotencyStore(ctx context.Context, container *di.Container) (idempotency.Store, error) {
	if container.Firestore == nil {
		return idempotency.NewMemoryStore(), nil
	}
	client, err := container.Firestore.Client(ctx)
	if err != nil {
		return nil, err
	}
	return idempotency.NewFirestoreStore(client), nil
}

// newAuthenticator returns nil when Firebase is not configured, in which case every customer
// route answers 401.
func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("auth: firebase project not configured; customer routes will reject requests")
		return nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, tokenVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	return auth.NewAuthenticator(verifier, auth.WithVerificationTimeout(tokenVerifyTimeout))
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator, err := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialise oidc validator", zap.Error(err))
	}

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithProject(project),
		secrets.WithLogger(logger),
		secrets.WithCacheTTL(defaultSecretsCacheTTL),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	if project == "" {
		opts = append(opts, secrets.WithoutSecretManager())
	}
	return secrets.NewResolver(ctx, opts...)
}

// requiredSecretNames lists the secret-backed settings the selected transports cannot run without.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["API_NOTIFY_TRANSPORT"]), config.NotificationTransportSMTP) {
		required = append(required, "Notifications.SMTP.Password")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_STOCK_BACKEND"]), config.StockBackendRedis) {
		required = append(required, "Stock.RedisURL")
	}
	return required
}
