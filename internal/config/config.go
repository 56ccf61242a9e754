// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor
// principles, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Throttle backends.
const (
	ThrottleMemory = "memory"
	ThrottleRedis  = "redis"
)

// DefaultEnvFiles are read by Load, earlier files taking precedence.
var DefaultEnvFiles = []string{".env.local", ".env"}

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Account store
	StoreDriver     string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL     string `env:"DATABASE_URL"`
	DatabaseMigrate bool   `env:"DATABASE_MIGRATE" envDefault:"true"`

	// Cache (Redis). Optional; enables the key cache, usage events and
	// the shared throttle backend.
	RedisURL string `env:"REDIS_URL"`

	// Per-address throttle
	ThrottleEnabled bool          `env:"THROTTLE_ENABLED" envDefault:"true"`
	ThrottleBackend string        `env:"THROTTLE_BACKEND" envDefault:"memory"`
	ThrottleLimit   int           `env:"THROTTLE_LIMIT" envDefault:"30"`
	ThrottleWindow  time.Duration `env:"THROTTLE_WINDOW" envDefault:"60s"`

	// Generation provider
	UpstreamBaseURL string        `env:"UPSTREAM_BASE_URL" envDefault:"https://pollinations.ai/api"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"60s"`

	// Minimum time spent on authentication
	AuthMinDuration time.Duration `env:"AUTH_MIN_DURATION" envDefault:"200ms"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. Writes must outlast UPSTREAM_TIMEOUT.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"90s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// CORS configuration
	// Comma-separated list of allowed origins, "*" for any.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// Usage ledger worker. Runs only with Redis and the postgres store.
	UsageWorkerEnabled   bool `env:"USAGE_WORKER_ENABLED" envDefault:"true"`
	UsageWorkerBatchSize int  `env:"USAGE_WORKER_BATCH_SIZE" envDefault:"500"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that overwrites them; clients can
	// forge both headers.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver))
	}

	switch c.ThrottleBackend {
	case ThrottleRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when THROTTLE_BACKEND=redis"))
		}
	case ThrottleMemory:
	default:
		errs = append(errs, fmt.Errorf("THROTTLE_BACKEND must be %q or %q, got %q", ThrottleMemory, ThrottleRedis, c.ThrottleBackend))
	}

	if c.ThrottleLimit <= 0 {
		errs = append(errs, errors.New("THROTTLE_LIMIT must be positive"))
	}
	if c.ThrottleWindow <= 0 {
		errs = append(errs, errors.New("THROTTLE_WINDOW must be positive"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.UsageWorkerBatchSize <= 0 {
		errs = append(errs, errors.New("USAGE_WORKER_BATCH_SIZE must be positive"))
	}
	if c.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_SIZE must be positive"))
	}

	return errors.Join(errs...)
}

// Load reads DefaultEnvFiles, parses environment variables and returns a
// validated Config. Variables already set in the environment win over
// the files.
func Load() (*Config, error) {
	return LoadWithFiles(DefaultEnvFiles...)
}

// LoadWithFiles is Load with an explicit list of env files. Missing files
// are skipped.
func LoadWithFiles(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
