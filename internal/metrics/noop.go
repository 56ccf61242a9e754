package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncRegistration() {}

func (n *NoopRecorder) IncKeyRotation() {}

func (n *NoopRecorder) IncAuthFailure(reason string) {}

func (n *NoopRecorder) IncThrottled() {}

func (n *NoopRecorder) IncQuotaRejection(period string) {}

func (n *NoopRecorder) IncKeyCacheLookup(hit bool) {}

func (n *NoopRecorder) IncGeneration(category, outcome string) {}

func (n *NoopRecorder) ObserveUpstreamDuration(category string, d time.Duration) {}

func (n *NoopRecorder) IncUsageRelease(category string) {}

func (n *NoopRecorder) IncUsageEventPublished(status string) {}

func (n *NoopRecorder) IncUsageEventProcessed(status string) {}

func (n *NoopRecorder) SetUsageQueueDepth(depth int64) {}

func (n *NoopRecorder) ObserveUsageBatch(size int, d time.Duration) {}
