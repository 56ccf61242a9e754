package events

import (
	"errors"
	"fmt"

	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/model"
)

const maxModelLength = 100

// ValidateUsageEvent checks a decoded stream payload.
func ValidateUsageEvent(ev UsageEvent) error {
	if ev.AccountID == "" {
		return errors.New("aid is required")
	}
	if !model.Category(ev.Category).Valid() {
		return fmt.Errorf("unknown category %q", ev.Category)
	}
	switch ev.Outcome {
	case metrics.OutcomeSuccess, metrics.OutcomeUpstream, metrics.OutcomeError:
	default:
		return fmt.Errorf("unknown outcome %q", ev.Outcome)
	}
	if len(ev.Model) > maxModelLength {
		return errors.New("model too long")
	}
	if ev.DurationMs < 0 {
		return errors.New("duration must not be negative")
	}
	if ev.At <= 0 {
		return errors.New("t must be set")
	}
	return nil
}
