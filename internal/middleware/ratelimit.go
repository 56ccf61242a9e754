package middleware

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/throttle"
)

// ThrottleConfig holds configuration for the per-address throttle.
type ThrottleConfig struct {
	Logger   *slog.Logger
	Throttle *throttle.Throttle
	Enabled  bool
	Errors   apperr.Writer
	Metrics  metrics.Recorder
}

// Throttle returns middleware that limits requests per client address.
// It runs before authentication and touches no persistent state.
func Throttle(cfg ThrottleConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.Throttle == nil {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			result, err := cfg.Throttle.Admit(r.Context(), ip)
			setRateLimitHeaders(w, result)

			var rateErr *apperr.RateExceededError
			if errors.As(err, &rateErr) {
				cfg.Metrics.IncThrottled()
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int("retry_after_seconds", apperr.Seconds(rateErr.RetryAfter)),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				cfg.Errors.Write(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, res throttle.Result) {
	if res.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.Reset).Unix(), 10))
}

// ClientIP returns the host part of the request's remote address.
// Forwarding headers are honoured only when chi's RealIP middleware has
// already rewritten RemoteAddr from them.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
