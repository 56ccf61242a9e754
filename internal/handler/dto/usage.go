package dto

import (
	"time"

	"github.com/fortec/gateway/internal/model"
)

// UsageDay is one row of the usage history.
type UsageDay struct {
	Day             string         `json:"day"`
	Category        model.Category `json:"category"`
	Outcome         string         `json:"outcome"`
	Requests        int64          `json:"requests"`
	TotalDurationMs int64          `json:"totalDurationMs"`
}

// UsageHistory is returned by GET /auth/usage.
type UsageHistory struct {
	From   string                   `json:"from"`
	To     string                   `json:"to"`
	Days   []UsageDay               `json:"days"`
	Totals map[model.Category]int64 `json:"totals"`
}

// ToUsageHistory converts daily aggregates for [from, to] into the
// response. Totals count requests of every outcome per category.
func ToUsageHistory(from, to time.Time, days []model.DailyUsage) UsageHistory {
	out := UsageHistory{
		From:   from.Format(time.DateOnly),
		To:     to.Format(time.DateOnly),
		Days:   make([]UsageDay, 0, len(days)),
		Totals: make(map[model.Category]int64, len(model.Categories)),
	}
	for _, c := range model.Categories {
		out.Totals[c] = 0
	}
	for _, d := range days {
		out.Days = append(out.Days, UsageDay{
			Day:             d.Day.UTC().Format(time.DateOnly),
			Category:        d.Category,
			Outcome:         d.Outcome,
			Requests:        d.Requests,
			TotalDurationMs: d.TotalDuration.Milliseconds(),
		})
		out.Totals[d.Category] += d.Requests
	}
	return out
}
