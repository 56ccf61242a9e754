package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/model"
)

const (
	// ConsumerGroup is the consumer group the ledger reads StreamKey with.
	ConsumerGroup = "usage_ledger"

	// DeadLetterStreamKey receives entries that cannot be decoded.
	DeadLetterStreamKey = "stream:usage_events:dlq"

	deadLetterMaxLen = 10000
)

// WorkerOptions tunes the usage ledger worker. Zero fields take defaults.
type WorkerOptions struct {
	// BatchSize caps the entries read per round. Default 500.
	BatchSize int
	// BlockTimeout is how long a read waits for new entries. Default 5s.
	BlockTimeout time.Duration
	// MaxAttempts is how many times a batch is written before it is left
	// pending. Default 3.
	MaxAttempts int
	// RetryBase is the first backoff between attempts; it doubles after
	// each one. Default 2s.
	RetryBase time.Duration
	// ClaimIdle is how long an entry stays pending with another consumer
	// before it is taken over. Default 30s.
	ClaimIdle time.Duration
	// ClaimEvery is how often pending entries are scanned. Default 10s.
	ClaimEvery time.Duration
	// DepthEvery is how often the queue depth gauge is refreshed. Default 5s.
	DepthEvery time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = 30 * time.Second
	}
	if o.ClaimEvery <= 0 {
		o.ClaimEvery = 10 * time.Second
	}
	if o.DepthEvery <= 0 {
		o.DepthEvery = 5 * time.Second
	}
	return o
}

// Store persists consumed usage events. repository.Repository implements it.
type Store interface {
	InsertUsageEvents(ctx context.Context, events []*model.UsageRecord) error
	RefreshDailyUsage(ctx context.Context, events []*model.UsageRecord) error
}

// Worker moves usage events from StreamKey into a Store. Entries are
// acknowledged only after their batch is stored or dead-lettered, so a
// crash between the two redelivers them; the Store skips duplicates.
type Worker struct {
	client   *redis.Client
	store    Store
	opts     WorkerOptions
	consumer string
	logger   *slog.Logger
	metrics  metrics.Recorder

	// Owned by the Run goroutine.
	claimCursor string
	nextClaim   time.Time
	nextDepth   time.Time

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// NewWorker returns a Worker reading as consumer within ConsumerGroup.
func NewWorker(client *redis.Client, store Store, consumer string, opts WorkerOptions, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		client:      client,
		store:       store,
		opts:        opts.withDefaults(),
		consumer:    consumer,
		logger:      logger.With("component", "usage_ledger", "consumer", consumer),
		metrics:     recorder,
		claimCursor: "0-0",
	}
}

// Run consumes the stream until ctx is cancelled or Shutdown is called.
// It returns an error only if the consumer group cannot be created.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("usage worker is already running")
	}
	w.running = true
	ctx, w.stop = context.WithCancel(ctx)
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()
	defer close(done)

	err := w.client.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group %s: %w", ConsumerGroup, err)
	}

	w.logger.Info("usage worker started", "batch_size", w.opts.BatchSize)
	for ctx.Err() == nil {
		if err := w.round(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("usage worker round failed", "error", err)
			_ = sleep(ctx, time.Second)
		}
	}
	w.logger.Info("usage worker stopped")
	return nil
}

// Shutdown stops Run after the batch in flight and waits for it to
// return. It has the server.ShutdownFunc signature.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.mu.Unlock()
	if stop == nil {
		return nil
	}

	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("usage worker did not stop in time")
		return ctx.Err()
	}
}

// round handles one batch: reclaimed entries if any are due, otherwise
// new ones.
func (w *Worker) round(ctx context.Context) error {
	now := time.Now()
	if !now.Before(w.nextDepth) {
		w.nextDepth = now.Add(w.opts.DepthEvery)
		w.reportDepth(ctx)
	}

	var (
		msgs []redis.XMessage
		err  error
	)
	if !now.Before(w.nextClaim) {
		w.nextClaim = now.Add(w.opts.ClaimEvery)
		if msgs, err = w.reclaim(ctx); err != nil {
			w.logger.Warn("reclaiming pending usage events failed", "error", err)
		}
	}
	if len(msgs) == 0 {
		if msgs, err = w.fetch(ctx); err != nil {
			return err
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	records := make([]*model.UsageRecord, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
		rec, reason, err := DecodeMessage(msg)
		if err != nil {
			w.deadLetter(ctx, msg, reason, err)
			continue
		}
		records = append(records, rec)
	}

	if len(records) > 0 {
		if err := w.persistWithRetry(ctx, records); err != nil {
			// Unacked entries stay pending and are reclaimed later.
			return fmt.Errorf("store %d usage events: %w", len(records), err)
		}
	}

	if err := w.client.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("ack usage events: %w", err)
	}
	return nil
}

func (w *Worker) fetch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.opts.BatchSize),
		Block:    w.opts.BlockTimeout,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read usage stream: %w", err)
	case len(streams) == 0:
		return nil, nil
	}
	return streams[0].Messages, nil
}

// reclaim takes over entries that another consumer read but never
// acknowledged, walking the pending list across rounds.
func (w *Worker) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	msgs, next, err := w.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumer,
		MinIdle:  w.opts.ClaimIdle,
		Start:    w.claimCursor,
		Count:    int64(w.opts.BatchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if next != "" {
		w.claimCursor = next
	}
	return msgs, nil
}

// reportDepth publishes pending plus undelivered entries for the group.
func (w *Worker) reportDepth(ctx context.Context) {
	groups, err := w.client.XInfoGroups(ctx, StreamKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			w.logger.Warn("reading usage stream groups failed", "error", err)
		}
		return
	}
	for _, g := range groups {
		if g.Name == ConsumerGroup {
			w.metrics.SetUsageQueueDepth(g.Pending + g.Lag)
			return
		}
	}
}

// DecodeMessage converts a stream entry into a UsageRecord. On failure it
// also returns a short reason recorded with the dead-letter entry.
func DecodeMessage(msg redis.XMessage) (*model.UsageRecord, string, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return nil, "invalid_format", errors.New("payload field missing or not a string")
	}

	var ev UsageEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, "unmarshal_error", err
	}
	if err := ValidateUsageEvent(ev); err != nil {
		return nil, "validation_error", err
	}

	return &model.UsageRecord{
		ID:         ulid.Make().String(),
		EventID:    msg.ID,
		AccountID:  ev.AccountID,
		Category:   model.Category(ev.Category),
		Outcome:    ev.Outcome,
		Model:      ev.Model,
		Duration:   time.Duration(ev.DurationMs) * time.Millisecond,
		OccurredAt: time.UnixMilli(ev.At).UTC(),
	}, "", nil
}

// deadLetter copies msg to DeadLetterStreamKey. The caller acknowledges
// it with the rest of the batch.
func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason string, cause error) {
	w.logger.Warn("usage event dead-lettered",
		"message_id", msg.ID,
		"reason", reason,
		"error", cause,
	)
	w.metrics.IncUsageEventProcessed("dead_lettered")

	err := w.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		Values: map[string]any{
			"source_id": msg.ID,
			"reason":    reason,
			"error":     cause.Error(),
			"payload":   fmt.Sprint(msg.Values[payloadField]),
			"failed_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.logger.Error("writing dead-letter entry failed", "message_id", msg.ID, "error", err)
	}
}

// persistWithRetry writes records up to MaxAttempts times, doubling the
// wait from RetryBase between attempts.
func (w *Worker) persistWithRetry(ctx context.Context, records []*model.UsageRecord) error {
	wait := w.opts.RetryBase
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.persist(ctx, records); err == nil {
			return nil
		}
		if attempt == w.opts.MaxAttempts {
			break
		}
		w.logger.Warn("storing usage batch failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		if serr := sleep(ctx, wait); serr != nil {
			return serr
		}
		wait *= 2
	}

	for range records {
		w.metrics.IncUsageEventProcessed("failed")
	}
	return err
}

func (w *Worker) persist(ctx context.Context, records []*model.UsageRecord) error {
	start := time.Now()
	if err := w.store.InsertUsageEvents(ctx, records); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if err := w.store.RefreshDailyUsage(ctx, records); err != nil {
		return fmt.Errorf("refresh daily usage: %w", err)
	}
	elapsed := time.Since(start)

	w.metrics.ObserveUsageBatch(len(records), elapsed)
	for range records {
		w.metrics.IncUsageEventProcessed("success")
	}
	w.logger.Debug("usage batch stored", "events", len(records), "duration", elapsed)
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
