// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Generation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeUpstream = "upstream_error"
	OutcomeQuota    = "quota_exceeded"
	OutcomeError    = "error"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// Account lifecycle
	IncRegistration()
	IncKeyRotation()

	// Admission
	IncAuthFailure(reason string)
	IncThrottled()
	IncQuotaRejection(period string)
	IncKeyCacheLookup(hit bool)

	// Generation
	IncGeneration(category, outcome string)
	ObserveUpstreamDuration(category string, d time.Duration)
	IncUsageRelease(category string)

	// Usage events
	IncUsageEventPublished(status string) // status: "success" or "dropped"
	IncUsageEventProcessed(status string) // status: "success", "failed" or "dead_lettered"
	SetUsageQueueDepth(depth int64)
	ObserveUsageBatch(size int, d time.Duration)
}
