package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/leadgen-insights/internal/api"
	"github.com/irfndi/leadgen-insights/internal/api/handlers"
	"github.com/irfndi/leadgen-insights/internal/cache"
	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/database"
	"github.com/irfndi/leadgen-insights/internal/forecastapi"
	"github.com/irfndi/leadgen-insights/internal/logging"
	"github.com/irfndi/leadgen-insights/internal/observability"
	"github.com/irfndi/leadgen-insights/internal/services"
	"github.com/irfndi/leadgen-insights/internal/telemetry"
)

const serviceName = "leadgen-insights"

const (
	writeTimeoutMargin = 10 * time.Second
	minWriteTimeout    = 30 * time.Second
)

// main serves as the entry point for the application.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, connects storage, wires the analytics pipeline and
// serves the API until a termination signal arrives.
func run() error {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := observability.InitSentry(cfg.Sentry, cfg.Telemetry.ServiceVersion, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sentry: %v\n", err)
	}
	defer observability.Flush(context.Background())

	logger, otlpLogger := logging.NewStandardOTLPLogger(otlpLoggerConfig(cfg))
	if otlpLogger != nil {
		defer func() { _ = otlpLogger.Shutdown(context.Background()) }()
	}
	serviceLogger := logging.NewLogrusLogger(logLevel(cfg), cfg.Environment)

	ctx := context.Background()
	provider, err := telemetry.InitTelemetry(ctx, telemetryConfig(cfg))
	if err != nil {
		logger.WithError(err).Warn("Tracing disabled: failed to initialize telemetry")
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisConnection(ctx, cfg.Redis)
	if err != nil {
		// Forecasts are recomputed on every request without the cache.
		logger.WithError(err).Error("Failed to connect to Redis - continuing without cache")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	var cacheClient *redis.Client
	if redisClient != nil {
		cacheClient = redisClient.Client
	}

	store := database.NewSnapshotRepository(database.NewTracedPool(db.Pool), serviceLogger).WithOperationLog(logger)
	app := newApplication(cfg, store, cacheClient, telemetry.NewEventRecorder(logger), serviceLogger, logger)
	defer app.worker.CancelAll()

	router := newRouter(cfg, api.RouteDeps{
		Analytics:   app.analytics,
		Health:      handlers.NewHealthHandler(db, redisClient, app.forecastClient, cfg.Telemetry.ServiceVersion),
		Logger:      logger,
		ErrorLogger: serviceLogger,
	})
	srv := newHTTPServer(cfg, router)

	go func() {
		logger.LogStartup(serviceName, cfg.Telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.LogShutdown(serviceName, "signal received")

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if app.cache != nil {
		app.cache.LogStats()
	}

	logger.Logger().Info("Server exited gracefully")
	return nil
}

// application holds the wired analytics pipeline.
type application struct {
	analytics      *services.AnalyticsService
	forecastClient *forecastapi.Client
	breaker        *services.CircuitBreaker
	worker         *services.ForecastWorker
	cache          *cache.ForecastCache
	notifier       *services.AnomalyNotifier
}

// newApplication wires the analytics pipeline. cacheClient may be nil, in
// which case forecasts are not cached. ops receives cache operation logs and
// may be nil.
func newApplication(cfg *config.Config, store services.SnapshotStore, cacheClient *redis.Client, emitter telemetry.Emitter, logger *logrus.Logger, ops *logging.StandardLogger) *application {
	analyticsCfg := cfg.Analytics
	app := &application{
		forecastClient: forecastapi.NewClient(cfg.ForecastService, logger),
		breaker: services.NewCircuitBreaker("forecast_service", services.CircuitBreakerConfig{
			FailureThreshold: cfg.ForecastService.FailureThreshold,
			Timeout:          cfg.ForecastService.OpenTimeout,
		}, logger),
		worker:   services.NewForecastWorker(analyticsCfg.Forecast.WorkerTimeout, logger),
		notifier: services.NewAnomalyNotifier(cfg.Telegram, logger),
	}

	resolver := services.NewConfigCapabilityResolver(analyticsCfg.Forecast, app.forecastClient.Enabled(), app.breaker)
	codec := services.NewShareBundleCodec(analyticsCfg.Export, emitter, logger)

	var server services.ForecastStrategy
	if app.forecastClient.Enabled() {
		server = services.NewServerStrategy(
			app.forecastClient,
			app.breaker,
			services.DefaultForecastRetryPolicy(analyticsCfg.Forecast.ServerRetries, analyticsCfg.Forecast.ServerTimeout, analyticsCfg.Forecast.ServerBudget),
			emitter,
			logger,
		)
	}

	deps := services.AnalyticsDeps{
		Store: store,
		Forecasts: services.NewForecastEngine(analyticsCfg.Forecast, services.ForecastEngineDeps{
			Server:    server,
			Worker:    services.NewWorkerStrategy(app.worker, analyticsCfg.Forecast.WorkerThreshold),
			Resolver:  resolver,
			Decisions: codec.Decisions(),
			Emitter:   emitter,
			Logger:    logger,
		}),
		Anomalies:       services.NewAnomalyDetector(analyticsCfg.Anomaly, emitter, logger),
		Recommendations: services.NewRecommendationPipeline(analyticsCfg.Recommendations, services.DefaultScoringRecommender{}, logger),
		Cohorts:         services.NewCohortEngine(analyticsCfg.Cohort, logger),
		Codec:           codec,
		Resolver:        resolver,
		Breaker:         app.breaker,
		Logger:          logger,
	}
	if app.forecastClient.Enabled() {
		deps.Upstream = app.forecastClient
	}
	if cacheClient != nil {
		app.cache = cache.NewForecastCache(cacheClient, analyticsCfg.Forecast.CacheTTL, logger).WithOperationLog(ops)
		deps.Cache = app.cache
	}
	if app.notifier.Enabled() {
		deps.Alerter = app.notifier
	}

	app.analytics = services.NewAnalyticsService(deps)
	return app
}

func newRouter(cfg *config.Config, deps api.RouteDeps) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(otelgin.Middleware(serviceName))
	if cfg.Sentry.Enabled && cfg.Sentry.DSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{
			Repanic:         true,
			WaitForDelivery: false,
			Timeout:         2 * time.Second,
		}))
	}
	router.Use(gin.Recovery())

	api.SetupRoutes(router, deps)
	return router
}

// newHTTPServer applies the security timeouts. WriteTimeout covers the full
// forecast chain plus writeTimeoutMargin for encoding the response.
func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	writeTimeout := cfg.Analytics.Forecast.ChainTimeout() + writeTimeoutMargin
	if writeTimeout < minWriteTimeout {
		writeTimeout = minWriteTimeout
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}
}

func logLevel(cfg *config.Config) string {
	if cfg.Telemetry.LogLevel != "" {
		return cfg.Telemetry.LogLevel
	}
	if cfg.LogLevel != "" {
		return cfg.LogLevel
	}
	return "info"
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := *telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Environment = cfg.Environment
	tc.LogLevel = logLevel(cfg)
	if cfg.Telemetry.OTLPEndpoint != "" {
		tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.ServiceVersion != "" {
		tc.ServiceVersion = cfg.Telemetry.ServiceVersion
	}
	return tc
}

func otlpLoggerConfig(cfg *config.Config) logging.OTLPConfig {
	tc := telemetryConfig(cfg)
	return logging.OTLPConfig{
		Enabled:        tc.Enabled,
		Endpoint:       tc.OTLPEndpoint,
		ServiceName:    tc.ServiceName,
		ServiceVersion: tc.ServiceVersion,
		Environment:    tc.Environment,
		LogLevel:       tc.LogLevel,
	}
}
