package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/auth"
	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/model"
)

// DefaultMinAuthDuration is the minimum time spent authenticating, so
// that failures cannot be told apart by latency.
const DefaultMinAuthDuration = 200 * time.Millisecond

// AccountResolver resolves an API key to its account.
type AccountResolver interface {
	FindByAPIKey(ctx context.Context, key string) (*model.Account, error)
}

// QuotaChecker decides whether an account may make another request.
type QuotaChecker interface {
	Check(acc *model.Account) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger   *slog.Logger
	Accounts AccountResolver
	// Quota, when set, rejects accounts that have used up their quota.
	Quota       QuotaChecker
	Errors      apperr.Writer
	Metrics     metrics.Recorder
	MinDuration time.Duration
}

// Auth returns a middleware that authenticates API requests. It extracts
// the API key, resolves it to an account, optionally checks the quota and
// attaches the account to the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			acc, reason, err := authenticate(r, cfg)
			waitUntil(r.Context(), start.Add(cfg.MinDuration))

			if err != nil {
				cfg.Metrics.IncAuthFailure(reason)
				attrs := []any{
					slog.String("reason", reason),
					slog.String("ip", ClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				}
				if acc != nil {
					attrs = append(attrs, slog.String("account_id", acc.ID))
				}
				if reason == "store_error" {
					cfg.Logger.Error("authentication failed", append(attrs, slog.String("error", err.Error()))...)
				} else {
					cfg.Logger.Warn("authentication failed", attrs...)
				}
				cfg.Errors.Write(w, err)
				return
			}

			setAccountID(r.Context(), acc.ID)
			cfg.Logger.Debug("authentication successful",
				slog.String("account_id", acc.ID),
				slog.String("key_prefix", acc.KeyPrefix),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAccount(r.Context(), acc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate runs the gate stages in order. The returned reason labels
// the failing stage for logs and metrics.
func authenticate(r *http.Request, cfg AuthConfig) (*model.Account, string, error) {
	key := ExtractAPIKey(r)
	if key == "" {
		return nil, "missing_key", apperr.ErrMissingCredential
	}

	acc, err := cfg.Accounts.FindByAPIKey(r.Context(), key)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrInvalidCredential):
		return nil, "invalid_key", err
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return nil, "store_error", err
	default:
		return nil, "error", err
	}

	if cfg.Quota != nil {
		if err := cfg.Quota.Check(acc); err != nil {
			var qe *apperr.QuotaError
			if errors.As(err, &qe) {
				cfg.Metrics.IncQuotaRejection(qe.Period)
			}
			return acc, "quota_exceeded", err
		}
	}
	return acc, "", nil
}

// ExtractAPIKey returns the key from "Authorization: Bearer <key>" or,
// failing that, the api_key query parameter.
func ExtractAPIKey(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, key, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if key = strings.TrimSpace(key); key != "" {
				return key
			}
		}
	}
	return r.URL.Query().Get("api_key")
}

// waitUntil blocks until deadline or until ctx is done.
func waitUntil(ctx context.Context, deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
