package handler

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/middleware"
	"github.com/fortec/gateway/internal/throttle"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Logger  *slog.Logger
	Errors  apperr.Writer
	Metrics metrics.Recorder

	Handler  *Handler
	Health   *HealthHandler
	Accounts *AccountHandler
	Generate *GenerateHandler
	// Usage serves /auth/usage. Nil leaves the route unregistered.
	Usage *UsageHandler
	// Exporter serves /metrics. Nil leaves the route unregistered.
	Exporter *MetricsHandler

	Resolver        middleware.AccountResolver
	Quota           middleware.QuotaChecker
	AuthMinDuration time.Duration

	Throttle        *throttle.Throttle
	ThrottleEnabled bool

	CORS              middleware.CORSConfig
	IsDevelopment     bool
	MaxBodySize       int64
	TrustProxyHeaders bool
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}

	r := chi.NewRouter()

	// Global middleware
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger, cfg.Errors))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment}))
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.MaxBodySize > 0 {
		r.Use(middleware.MaxBodySize(cfg.MaxBodySize))
	}

	// Health endpoints (no auth required)
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/api/health", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Exporter != nil {
		r.Get("/metrics", cfg.Exporter.Metrics)
	}

	r.Get("/", cfg.Handler.Root)

	authCfg := middleware.AuthConfig{
		Logger:      cfg.Logger,
		Accounts:    cfg.Resolver,
		Errors:      cfg.Errors,
		Metrics:     cfg.Metrics,
		MinDuration: cfg.AuthMinDuration,
	}

	// Account management. Authenticated, but usable with an exhausted quota.
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", cfg.Accounts.Register)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authCfg))
			r.Post("/api-key", cfg.Accounts.RotateKey)
			r.Get("/profile", cfg.Accounts.Profile)
			if cfg.Usage != nil {
				r.Get("/usage", cfg.Usage.History)
			}
		})
	})

	// Generation: throttle, then authenticate and check quota.
	quotaAuth := authCfg
	quotaAuth.Quota = cfg.Quota
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Throttle(middleware.ThrottleConfig{
			Logger:   cfg.Logger,
			Throttle: cfg.Throttle,
			Enabled:  cfg.ThrottleEnabled,
			Errors:   cfg.Errors,
			Metrics:  cfg.Metrics,
		}))
		r.Use(middleware.Auth(quotaAuth))

		r.Post("/text/generate", cfg.Generate.Text)
		r.Post("/image/generate", cfg.Generate.Image)
		r.Post("/speech/generate", cfg.Generate.Speech)
	})

	// 404 and 405 handlers
	r.NotFound(cfg.Handler.NotFound)
	r.MethodNotAllowed(cfg.Handler.MethodNotAllowed)

	return r
}
