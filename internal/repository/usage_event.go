package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fortec/gateway/internal/model"
)

// InsertUsageEvents stores events. Events already stored under the same
// EventID are skipped, so redelivered stream entries are harmless.
func (r *Repository) InsertUsageEvents(ctx context.Context, events []*model.UsageRecord) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO usage_events (
			id, event_id, account_id, category, outcome, model, duration_ms, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(query,
			ev.ID,
			ev.EventID,
			ev.AccountID,
			string(ev.Category),
			ev.Outcome,
			nullableString(ev.Model),
			ev.Duration.Milliseconds(),
			ev.OccurredAt.UTC(),
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert usage event %d: %w", i, err)
		}
	}
	return nil
}

// RefreshDailyUsage recomputes daily_usage_stats for every account and
// day touched by events. Rows are rebuilt from usage_events rather than
// incremented, so a batch processed twice yields the same totals.
func (r *Repository) RefreshDailyUsage(ctx context.Context, events []*model.UsageRecord) error {
	query := `
		INSERT INTO daily_usage_stats (account_id, day, category, outcome, requests, total_duration_ms, updated_at)
		SELECT account_id, $2::date, category, outcome, count(*), COALESCE(sum(duration_ms), 0), now()
		FROM usage_events
		WHERE account_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY account_id, category, outcome
		ON CONFLICT (account_id, day, category, outcome) DO UPDATE SET
			requests = EXCLUDED.requests,
			total_duration_ms = EXCLUDED.total_duration_ms,
			updated_at = now()
	`

	for _, key := range dailyKeys(events) {
		if _, err := r.pool.Exec(ctx, query, key.accountID, key.day, key.day.AddDate(0, 0, 1)); err != nil {
			return fmt.Errorf("refresh daily usage %s:%s: %w", key.accountID, key.day.Format(time.DateOnly), err)
		}
	}
	return nil
}

// ListDailyUsage returns an account's daily aggregates for days in
// [from, to), oldest first.
func (r *Repository) ListDailyUsage(ctx context.Context, accountID string, from, to time.Time) ([]model.DailyUsage, error) {
	query := `
		SELECT account_id, day, category, outcome, requests, total_duration_ms
		FROM daily_usage_stats
		WHERE account_id = $1 AND day >= $2::date AND day < $3::date
		ORDER BY day, category, outcome
	`

	rows, err := r.pool.Query(ctx, query, accountID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer rows.Close()

	var out []model.DailyUsage
	for rows.Next() {
		var (
			d        model.DailyUsage
			category string
			totalMs  int64
		)
		if err := rows.Scan(&d.AccountID, &d.Day, &category, &d.Outcome, &d.Requests, &totalMs); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		d.Category = model.Category(category)
		d.TotalDuration = time.Duration(totalMs) * time.Millisecond
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily usage: %w", err)
	}
	return out, nil
}

type dailyKey struct {
	accountID string
	day       time.Time
}

// dailyKeys returns the distinct (account, UTC day) pairs in events, in a
// stable order.
func dailyKeys(events []*model.UsageRecord) []dailyKey {
	seen := make(map[dailyKey]struct{})
	keys := make([]dailyKey, 0, len(events))
	for _, ev := range events {
		k := dailyKey{accountID: ev.AccountID, day: ev.Day()}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].accountID != keys[j].accountID {
			return keys[i].accountID < keys[j].accountID
		}
		return keys[i].day.Before(keys[j].day)
	})
	return keys
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
