package model

import "time"

// UsageRecord is a persisted usage event. EventID is the stream entry ID
// and makes inserts idempotent.
type UsageRecord struct {
	ID         string
	EventID    string
	AccountID  string
	Category   Category
	Outcome    string
	Model      string
	Duration   time.Duration
	OccurredAt time.Time
}

// Day returns the UTC day the event belongs to.
func (r *UsageRecord) Day() time.Time {
	t := r.OccurredAt.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyUsage aggregates an account's events for one UTC day, category
// and outcome.
type DailyUsage struct {
	AccountID     string        `json:"-"`
	Day           time.Time     `json:"day"`
	Category      Category      `json:"category"`
	Outcome       string        `json:"outcome"`
	Requests      int64         `json:"requests"`
	TotalDuration time.Duration `json:"-"`
}
