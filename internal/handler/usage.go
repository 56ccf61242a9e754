package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/auth"
	"github.com/fortec/gateway/internal/handler/dto"
	"github.com/fortec/gateway/internal/model"
)

const (
	defaultUsageDays = 7
	maxUsageDays     = 90
)

// UsageHistory reads the per-day usage aggregates. repository.Repository
// implements it.
type UsageHistory interface {
	ListDailyUsage(ctx context.Context, accountID string, from, to time.Time) ([]model.DailyUsage, error)
}

// UsageHandler serves an account's usage history.
type UsageHandler struct {
	*Handler
	history UsageHistory
	now     func() time.Time
}

// NewUsageHandler creates a new UsageHandler. A nil now uses time.Now.
func NewUsageHandler(h *Handler, history UsageHistory, now func() time.Time) *UsageHandler {
	if now == nil {
		now = time.Now
	}
	return &UsageHandler{Handler: h, history: history, now: now}
}

// History handles GET /auth/usage?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Both dates are inclusive UTC days.
func (h *UsageHandler) History(w http.ResponseWriter, r *http.Request) {
	acc := auth.MustAccountFromContext(r.Context())

	from, to, err := h.parseDayRange(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	days, err := h.history.ListDailyUsage(r.Context(), acc.ID, from, to.AddDate(0, 0, 1))
	if err != nil {
		h.fail(w, r, fmt.Errorf("list daily usage: %w: %w", apperr.ErrStoreUnavailable, err))
		return
	}

	writeJSON(w, http.StatusOK, dto.OK(dto.ToUsageHistory(from, to, days)))
}

// parseDayRange reads from and to. Defaults to the last week, clamps to to
// today and caps the span at maxUsageDays.
func (h *UsageHandler) parseDayRange(r *http.Request) (time.Time, time.Time, error) {
	today := truncateDay(h.now())

	to := today
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("to", "to must be a date in YYYY-MM-DD format")
		}
		to = t
	}
	if to.After(today) {
		to = today
	}

	from := to.AddDate(0, 0, -(defaultUsageDays - 1))
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("from", "from must be a date in YYYY-MM-DD format")
		}
		from = t
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, apperr.Validation("from", "from must not be after to")
	}
	if earliest := to.AddDate(0, 0, -(maxUsageDays - 1)); from.Before(earliest) {
		from = earliest
	}
	return from, to, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
