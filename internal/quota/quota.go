// Package quota decides whether an account may make another generation
// request. Daily and monthly windows are calendar periods in UTC.
package quota

import (
	"time"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/model"
)

// Period names used in QuotaError.
const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

// DayStart returns midnight UTC of t's day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart returns midnight UTC of the first day of t's month.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// inWindow reports whether ts falls on or after start. Absent timestamps
// never count.
func inWindow(ts *time.Time, start time.Time) bool {
	return ts != nil && !ts.Before(start)
}

// DailyUsed sums the category counts last used today.
func DailyUsed(acc *model.Account, now time.Time) int64 {
	start := DayStart(now)
	var total int64
	for _, e := range []model.UsageEntry{acc.Usage.Text, acc.Usage.Image, acc.Usage.Speech} {
		if inWindow(e.LastUsed, start) {
			total += e.Count
		}
	}
	return total
}

// MonthlyUsed returns the count for the current calendar month.
func MonthlyUsed(acc *model.Account, now time.Time) int64 {
	if inWindow(acc.Monthly.PeriodStart, MonthStart(now)) {
		return acc.Monthly.Count
	}
	return 0
}

// Remaining is the headroom left in each window.
type Remaining struct {
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

// Tracker evaluates quota against a clock.
type Tracker struct {
	now func() time.Time
}

// NewTracker returns a Tracker. A nil clock uses time.Now.
func NewTracker(clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{now: clock}
}

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time {
	return t.now()
}

// HasReachedLimit reports whether acc may not make another request.
func (t *Tracker) HasReachedLimit(acc *model.Account) bool {
	return Check(acc, t.now()) != nil
}

// Check returns a *apperr.QuotaError when acc has exhausted a window.
func (t *Tracker) Check(acc *model.Account) error {
	return Check(acc, t.now())
}

// Remaining returns what acc has left, never below zero.
func (t *Tracker) Remaining(acc *model.Account) Remaining {
	now := t.now()
	return Remaining{
		Daily:   max(int64(acc.Limits.Daily)-DailyUsed(acc, now), 0),
		Monthly: max(int64(acc.Limits.Monthly)-MonthlyUsed(acc, now), 0),
	}
}

// Check is the clock-free form of Tracker.Check.
func Check(acc *model.Account, now time.Time) error {
	if DailyUsed(acc, now) >= int64(acc.Limits.Daily) {
		return &apperr.QuotaError{
			Period:  PeriodDaily,
			Limit:   acc.Limits.Daily,
			ResetAt: DayStart(now).AddDate(0, 0, 1),
		}
	}
	if MonthlyUsed(acc, now) >= int64(acc.Limits.Monthly) {
		return &apperr.QuotaError{
			Period:  PeriodMonthly,
			Limit:   acc.Limits.Monthly,
			ResetAt: MonthStart(now).AddDate(0, 1, 0),
		}
	}
	return nil
}

// Apply checks acc at time at and, when admitted, records one use of c.
// A category last used before today restarts at one.
func Apply(acc *model.Account, c model.Category, at time.Time) error {
	entry, err := acc.Usage.Entry(c)
	if err != nil {
		return err
	}
	if err := Check(acc, at); err != nil {
		return err
	}

	at = at.UTC()
	if inWindow(entry.LastUsed, DayStart(at)) {
		entry.Count++
	} else {
		entry.Count = 1
	}
	entry.LastUsed = &at

	monthStart := MonthStart(at)
	if inWindow(acc.Monthly.PeriodStart, monthStart) {
		acc.Monthly.Count++
	} else {
		acc.Monthly.Count = 1
		acc.Monthly.PeriodStart = &monthStart
	}
	return nil
}

// Revert undoes a use of c recorded at time at, provided the counters are
// still in the windows that use landed in.
func Revert(acc *model.Account, c model.Category, at time.Time) error {
	entry, err := acc.Usage.Entry(c)
	if err != nil {
		return err
	}
	if entry.LastUsed != nil && DayStart(*entry.LastUsed).Equal(DayStart(at)) && entry.Count > 0 {
		entry.Count--
	}
	if acc.Monthly.PeriodStart != nil && acc.Monthly.PeriodStart.Equal(MonthStart(at)) && acc.Monthly.Count > 0 {
		acc.Monthly.Count--
	}
	return nil
}
