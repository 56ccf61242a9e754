// Package main is the entrypoint for the Fortec AI gateway.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/auth"
	"github.com/fortec/gateway/internal/cache"
	"github.com/fortec/gateway/internal/config"
	"github.com/fortec/gateway/internal/events"
	"github.com/fortec/gateway/internal/handler"
	"github.com/fortec/gateway/internal/identity"
	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/middleware"
	"github.com/fortec/gateway/internal/quota"
	"github.com/fortec/gateway/internal/repository"
	"github.com/fortec/gateway/internal/server"
	"github.com/fortec/gateway/internal/service"
	"github.com/fortec/gateway/internal/throttle"
	"github.com/fortec/gateway/internal/upstream"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize metrics
	var (
		recorder metrics.Recorder = metrics.NewNoop()
		exporter *handler.MetricsHandler
	)
	if cfg.MetricsEnabled {
		prom := metrics.NewPrometheus()
		recorder = prom
		exporter = handler.NewMetricsHandler(prom.Handler())
	}

	// Initialize account store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error(
			"failed to open account store",
			slog.String("driver", cfg.StoreDriver),
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}

	// Initialize cache (optional)
	var (
		cacheClient *cache.Cache
		keyCache    identity.KeyCache
		readiness   handler.HealthChecker
		publisher   events.Publisher = events.Noop{}
		counter     throttle.Counter = throttle.NewMemoryCounter(nil)
	)
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			closeStore()
			os.Exit(1)
		}
		logger.Info("connected to Redis")

		keyCache = cacheClient
		readiness = cacheClient
		publisher = events.NewRedisPublisher(cacheClient.Client(), logger, recorder)
		if cfg.ThrottleBackend == config.ThrottleRedis {
			counter = cacheClient
		}
	}

	// Initialize services
	accounts := identity.NewService(identity.Config{
		Store:     store,
		Cache:     keyCache,
		Generator: auth.NewKeyGenerator(keyEnv(cfg), nil),
		Logger:    logger,
		Metrics:   recorder,
	})
	tracker := quota.NewTracker(nil)
	provider := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, logger)
	generations := service.NewGenerationService(accounts, provider, publisher, recorder, logger)
	limiter := throttle.New(counter, throttle.Options{
		Limit:  cfg.ThrottleLimit,
		Window: cfg.ThrottleWindow,
	}, logger)

	// Initialize handlers
	errs := apperr.Writer{Debug: cfg.IsDevelopment()}
	h := handler.New(logger, errs)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	// Setup router
	r := handler.NewRouter(handler.RouterConfig{
		Logger:            logger,
		Errors:            errs,
		Metrics:           recorder,
		Handler:           h,
		Health:            handler.NewHealthHandler(store, readiness),
		Accounts:          handler.NewAccountHandler(h, accounts, tracker),
		Generate:          handler.NewGenerateHandler(h, generations),
		Usage:             newUsageHandler(h, store),
		Exporter:          exporter,
		Resolver:          accounts,
		Quota:             tracker,
		AuthMinDuration:   cfg.AuthMinDuration,
		Throttle:          limiter,
		ThrottleEnabled:   cfg.ThrottleEnabled,
		CORS:              cors,
		IsDevelopment:     cfg.IsDevelopment(),
		MaxBodySize:       cfg.MaxRequestBodySize,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// Create and run server
	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("store", func(context.Context) error {
		closeStore()
		return nil
	})
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}

	// Usage ledger worker. Registered last so it stops before Redis and
	// the store close.
	if worker := newUsageWorker(cfg, store, cacheClient, logger, recorder); worker != nil {
		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Error("usage worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("usage-worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"store", cfg.StoreDriver,
		"throttle_backend", throttleBackend(cfg, cacheClient),
		"upstream", cfg.UpstreamBaseURL,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openStore connects the configured account store and returns a function
// releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (identity.Store, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using in-memory account store; accounts are lost on restart")
		return repository.NewMemory(), func() {}, nil
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to database")

	if cfg.DatabaseMigrate {
		applied, err := repo.Migrate(ctx)
		if err != nil {
			repo.Close()
			return nil, nil, err
		}
		if len(applied) > 0 {
			logger.Info("applied migrations", "migrations", applied)
		}
	}
	return repo, repo.Close, nil
}

// newUsageWorker returns the usage ledger worker, or nil when it is
// disabled or lacks Redis or a Postgres store.
func newUsageWorker(cfg *config.Config, store identity.Store, c *cache.Cache, logger *slog.Logger, recorder metrics.Recorder) *events.Worker {
	if !cfg.UsageWorkerEnabled || c == nil {
		return nil
	}
	repo, ok := store.(*repository.Repository)
	if !ok {
		logger.Warn("usage worker needs the postgres store; usage events will not be persisted")
		return nil
	}
	return events.NewWorker(c.Client(), repo, events.NewConsumerID(), events.WorkerOptions{
		BatchSize: cfg.UsageWorkerBatchSize,
	}, logger, recorder)
}

// newUsageHandler serves usage history from the Postgres daily aggregates,
// or returns nil when the store keeps none.
func newUsageHandler(h *handler.Handler, store identity.Store) *handler.UsageHandler {
	repo, ok := store.(*repository.Repository)
	if !ok {
		return nil
	}
	return handler.NewUsageHandler(h, repo, nil)
}

// keyEnv picks the environment segment of newly issued keys.
func keyEnv(cfg *config.Config) string {
	if cfg.IsProduction() {
		return auth.EnvLive
	}
	return auth.EnvTest
}

func throttleBackend(cfg *config.Config, c *cache.Cache) string {
	if c != nil && cfg.ThrottleBackend == config.ThrottleRedis {
		return config.ThrottleRedis
	}
	return config.ThrottleMemory
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
