// Package events publishes usage events for offline accounting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortec/gateway/internal/metrics"
)

const (
	// StreamKey is the Redis stream for usage events.
	StreamKey = "stream:usage_events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond

	// payloadField holds the JSON-encoded UsageEvent in each entry.
	payloadField = "payload"
)

// UsageEvent describes one finished generation.
type UsageEvent struct {
	AccountID  string `json:"aid"`
	Category   string `json:"cat"`
	Outcome    string `json:"o"`
	Model      string `json:"m,omitempty"`
	DurationMs int64  `json:"d"`
	At         int64  `json:"t"` // Unix milliseconds
}

// Publisher accepts usage events. Implementations must not block the caller.
type Publisher interface {
	PublishAsync(event UsageEvent)
}

// RedisPublisher appends usage events to a Redis stream.
type RedisPublisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
	timeout time.Duration
}

// NewRedisPublisher creates a new usage event publisher.
func NewRedisPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *RedisPublisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{
		redis:   client,
		logger:  logger.With("component", "events.publisher"),
		metrics: recorder,
		timeout: PublishTimeout,
	}
}

// Publish adds an event to the stream synchronously.
func (p *RedisPublisher) Publish(ctx context.Context, event UsageEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			payloadField: string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned.
func (p *RedisPublisher) PublishAsync(event UsageEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"account_id", event.AccountID,
				"category", event.Category,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"account_id", event.AccountID,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

// Noop discards events. It is used when Redis is not configured.
type Noop struct{}

// PublishAsync does nothing.
func (Noop) PublishAsync(UsageEvent) {}

// Recorder keeps published events in memory. Useful in tests.
type Recorder struct {
	events chan UsageEvent
}

// NewRecorder returns a Recorder buffering up to size events; further
// events are dropped.
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan UsageEvent, size)}
}

// PublishAsync buffers event.
func (r *Recorder) PublishAsync(event UsageEvent) {
	select {
	case r.events <- event:
	default:
	}
}

// Events returns the channel events are delivered on.
func (r *Recorder) Events() <-chan UsageEvent {
	return r.events
}
