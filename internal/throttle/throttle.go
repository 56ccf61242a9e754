// Package throttle limits how many requests a client address may make in
// a fixed time window, independently of the account making them.
package throttle

import (
	"context"
	"log/slog"
	"time"

	"github.com/fortec/gateway/internal/apperr"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultLimit  = 30
	DefaultWindow = 60 * time.Second
)

// Counter is an atomic fixed-window hit counter. Implementations must be
// safe for concurrent use.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Options configures a Throttle.
type Options struct {
	Limit     int
	Window    time.Duration
	KeyPrefix string
}

// Result describes the state of a client's window after a hit.
type Result struct {
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Throttle admits or rejects requests per client address.
type Throttle struct {
	counter Counter
	limit   int
	window  time.Duration
	prefix  string
	logger  *slog.Logger
}

// New returns a Throttle over counter.
func New(counter Counter, opts Options, logger *slog.Logger) *Throttle {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "throttle:ip:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{
		counter: counter,
		limit:   opts.Limit,
		window:  opts.Window,
		prefix:  opts.KeyPrefix,
		logger:  logger.With("component", "throttle"),
	}
}

// Limit returns the number of requests admitted per window.
func (t *Throttle) Limit() int {
	return t.limit
}

// Window returns the window length.
func (t *Throttle) Window() time.Duration {
	return t.window
}

// Admit counts a request from addr. It returns *apperr.RateExceededError
// once addr has used its window. Counter failures admit the request.
func (t *Throttle) Admit(ctx context.Context, addr string) (Result, error) {
	count, ttl, err := t.counter.IncrWindow(ctx, t.prefix+addr, t.window)
	if err != nil {
		t.logger.Warn("throttle counter unavailable, admitting request",
			slog.String("client_ip", addr),
			slog.String("error", err.Error()),
		)
		return Result{Limit: t.limit, Remaining: t.limit, Reset: t.window}, nil
	}

	if ttl <= 0 || ttl > t.window {
		ttl = t.window
	}
	res := Result{
		Limit:     t.limit,
		Remaining: max(t.limit-int(count), 0),
		Reset:     ttl,
	}
	if count > int64(t.limit) {
		return res, &apperr.RateExceededError{RetryAfter: ttl}
	}
	return res, nil
}
