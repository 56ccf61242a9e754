package quota

import (
	"errors"
	"testing"
	"time"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/model"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newAccount(daily, monthly int) *model.Account {
	return &model.Account{ID: "acc", Limits: model.Limits{Daily: daily, Monthly: monthly}}
}

func TestDayStartAndMonthStart(t *testing.T) {
	tests := []struct {
		name      string
		in        time.Time
		wantDay   time.Time
		wantMonth time.Time
	}{
		{
			name:      "utc",
			in:        ts("2024-03-15T13:45:00Z"),
			wantDay:   ts("2024-03-15T00:00:00Z"),
			wantMonth: ts("2024-03-01T00:00:00Z"),
		},
		{
			name:      "offset converts to utc first",
			in:        ts("2024-03-01T01:00:00+02:00"),
			wantDay:   ts("2024-02-29T00:00:00Z"),
			wantMonth: ts("2024-02-01T00:00:00Z"),
		},
		{
			name:      "exact midnight",
			in:        ts("2024-03-15T00:00:00Z"),
			wantDay:   ts("2024-03-15T00:00:00Z"),
			wantMonth: ts("2024-03-01T00:00:00Z"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayStart(tt.in); !got.Equal(tt.wantDay) {
				t.Errorf("DayStart = %v, want %v", got, tt.wantDay)
			}
			if got := MonthStart(tt.in); !got.Equal(tt.wantMonth) {
				t.Errorf("MonthStart = %v, want %v", got, tt.wantMonth)
			}
		})
	}
}

func TestDailyUsed(t *testing.T) {
	now := ts("2024-03-15T12:00:00Z")

	tests := []struct {
		name  string
		usage model.Usage
		want  int64
	}{
		{name: "no usage", want: 0},
		{
			name:  "counts without lastUsed are ignored",
			usage: model.Usage{Text: model.UsageEntry{Count: 5}},
			want:  0,
		},
		{
			name: "sums categories used today",
			usage: model.Usage{
				Text:   model.UsageEntry{Count: 3, LastUsed: ptr(ts("2024-03-15T01:00:00Z"))},
				Image:  model.UsageEntry{Count: 2, LastUsed: ptr(ts("2024-03-15T11:59:59Z"))},
				Speech: model.UsageEntry{Count: 4, LastUsed: ptr(ts("2024-03-14T23:59:59Z"))},
			},
			want: 5,
		},
		{
			name:  "usage at exactly midnight counts",
			usage: model.Usage{Text: model.UsageEntry{Count: 1, LastUsed: ptr(ts("2024-03-15T00:00:00Z"))}},
			want:  1,
		},
		{
			name:  "usage a nanosecond before midnight does not count",
			usage: model.Usage{Text: model.UsageEntry{Count: 1, LastUsed: ptr(ts("2024-03-15T00:00:00Z").Add(-time.Nanosecond))}},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newAccount(100, 3000)
			acc.Usage = tt.usage
			if got := DailyUsed(acc, now); got != tt.want {
				t.Errorf("DailyUsed = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTracker_AdmitsUpToLimit(t *testing.T) {
	const limit = 5
	now := ts("2024-03-15T12:00:00Z")
	tr := NewTracker(fixedClock(now))
	acc := newAccount(limit, 3000)

	for i := 1; i <= limit; i++ {
		if tr.HasReachedLimit(acc) {
			t.Fatalf("request %d should be admitted", i)
		}
		if err := Apply(acc, model.CategoryText, now); err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
	}

	if !tr.HasReachedLimit(acc) {
		t.Fatal("request after the limit should be rejected")
	}
	err := Apply(acc, model.CategoryImage, now)
	var qe *apperr.QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("Apply past limit error = %v, want QuotaError", err)
	}
	if qe.Period != PeriodDaily || qe.Limit != limit {
		t.Errorf("QuotaError = %+v", qe)
	}
	if !qe.ResetAt.Equal(ts("2024-03-16T00:00:00Z")) {
		t.Errorf("ResetAt = %v, want next midnight", qe.ResetAt)
	}
	if acc.Usage.Image.Count != 0 {
		t.Error("rejected request must not be recorded")
	}
}

func TestTracker_YesterdayDoesNotCount(t *testing.T) {
	today := ts("2024-03-15T00:00:01Z")
	acc := newAccount(2, 3000)
	acc.Usage.Text = model.UsageEntry{Count: 2, LastUsed: ptr(ts("2024-03-14T23:59:59Z"))}

	tr := NewTracker(fixedClock(today))
	if tr.HasReachedLimit(acc) {
		t.Fatal("yesterday's usage should not block today")
	}

	if err := Apply(acc, model.CategoryText, today); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if acc.Usage.Text.Count != 1 {
		t.Errorf("count should restart at 1 on a new day, got %d", acc.Usage.Text.Count)
	}
	if got := tr.Remaining(acc).Daily; got != 1 {
		t.Errorf("Remaining.Daily = %d, want 1", got)
	}
}

func TestTracker_MonthlyLimit(t *testing.T) {
	now := ts("2024-03-31T23:00:00Z")
	acc := newAccount(100, 3)
	acc.Monthly = model.PeriodUsage{Count: 3, PeriodStart: ptr(ts("2024-03-01T00:00:00Z"))}

	err := Check(acc, now)
	var qe *apperr.QuotaError
	if !errors.As(err, &qe) || qe.Period != PeriodMonthly {
		t.Fatalf("Check = %v, want monthly QuotaError", err)
	}
	if !qe.ResetAt.Equal(ts("2024-04-01T00:00:00Z")) {
		t.Errorf("ResetAt = %v", qe.ResetAt)
	}

	nextMonth := ts("2024-04-01T00:00:00Z")
	if err := Check(acc, nextMonth); err != nil {
		t.Errorf("new month should reset, got %v", err)
	}
	if err := Apply(acc, model.CategorySpeech, nextMonth); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if acc.Monthly.Count != 1 || !acc.Monthly.PeriodStart.Equal(nextMonth) {
		t.Errorf("monthly usage = %+v", acc.Monthly)
	}
}

func TestRevert(t *testing.T) {
	at := ts("2024-03-15T10:00:00Z")
	acc := newAccount(100, 3000)

	if err := Apply(acc, model.CategoryText, at); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := Apply(acc, model.CategoryText, at); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := Revert(acc, model.CategoryText, at); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if acc.Usage.Text.Count != 1 || acc.Monthly.Count != 1 {
		t.Errorf("after revert text=%d monthly=%d, want 1/1", acc.Usage.Text.Count, acc.Monthly.Count)
	}

	// A reservation from yesterday must not eat into today's counter.
	if err := Apply(acc, model.CategoryText, at.Add(24*time.Hour)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := Revert(acc, model.CategoryText, at); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if acc.Usage.Text.Count != 1 {
		t.Errorf("stale revert changed today's count to %d", acc.Usage.Text.Count)
	}
}

func TestRemaining_ClampsAtZero(t *testing.T) {
	now := ts("2024-03-15T12:00:00Z")
	acc := newAccount(1, 1)
	acc.Usage.Text = model.UsageEntry{Count: 5, LastUsed: ptr(now)}
	acc.Monthly = model.PeriodUsage{Count: 5, PeriodStart: ptr(MonthStart(now))}

	got := NewTracker(fixedClock(now)).Remaining(acc)
	if got.Daily != 0 || got.Monthly != 0 {
		t.Errorf("Remaining = %+v, want zeros", got)
	}
}

func TestApply_UnknownCategory(t *testing.T) {
	acc := newAccount(100, 3000)
	if err := Apply(acc, model.Category("video"), time.Now()); err == nil {
		t.Error("Apply should reject unknown category")
	}
}
