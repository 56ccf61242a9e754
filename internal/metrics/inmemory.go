package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters. Labelled counters are
// keyed "label" or "label1/label2".
type Snapshot struct {
	Registrations        uint64
	KeyRotations         uint64
	Throttled            uint64
	KeyCacheHits         uint64
	KeyCacheMisses       uint64
	AuthFailures         map[string]uint64
	QuotaRejections      map[string]uint64
	Generations          map[string]uint64
	UsageReleases        map[string]uint64
	UsageEventsPublished map[string]uint64
	UsageEventsProcessed map[string]uint64
	UsageQueueDepth      int64
	UsageBatches         uint64
	UpstreamCalls        uint64
	UpstreamTotal        time.Duration
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{snap: Snapshot{
		AuthFailures:         map[string]uint64{},
		QuotaRejections:      map[string]uint64{},
		Generations:          map[string]uint64{},
		UsageReleases:        map[string]uint64{},
		UsageEventsPublished: map[string]uint64{},
		UsageEventsProcessed: map[string]uint64{},
	}}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.snap
	s.AuthFailures = copyMap(m.snap.AuthFailures)
	s.QuotaRejections = copyMap(m.snap.QuotaRejections)
	s.Generations = copyMap(m.snap.Generations)
	s.UsageReleases = copyMap(m.snap.UsageReleases)
	s.UsageEventsPublished = copyMap(m.snap.UsageEventsPublished)
	s.UsageEventsProcessed = copyMap(m.snap.UsageEventsProcessed)
	return s
}

func copyMap(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *InMemoryRecorder) update(fn func(s *Snapshot)) {
	m.mu.Lock()
	fn(&m.snap)
	m.mu.Unlock()
}

// IncRegistration increments the registration counter.
func (m *InMemoryRecorder) IncRegistration() {
	m.update(func(s *Snapshot) { s.Registrations++ })
}

// IncKeyRotation increments the rotation counter.
func (m *InMemoryRecorder) IncKeyRotation() {
	m.update(func(s *Snapshot) { s.KeyRotations++ })
}

// IncAuthFailure counts a rejected credential by reason.
func (m *InMemoryRecorder) IncAuthFailure(reason string) {
	m.update(func(s *Snapshot) { s.AuthFailures[reason]++ })
}

// IncThrottled counts a throttled request.
func (m *InMemoryRecorder) IncThrottled() {
	m.update(func(s *Snapshot) { s.Throttled++ })
}

// IncQuotaRejection counts a quota rejection by period.
func (m *InMemoryRecorder) IncQuotaRejection(period string) {
	m.update(func(s *Snapshot) { s.QuotaRejections[period]++ })
}

// IncKeyCacheLookup counts a key cache hit or miss.
func (m *InMemoryRecorder) IncKeyCacheLookup(hit bool) {
	m.update(func(s *Snapshot) {
		if hit {
			s.KeyCacheHits++
		} else {
			s.KeyCacheMisses++
		}
	})
}

// IncGeneration counts a generation by category and outcome.
func (m *InMemoryRecorder) IncGeneration(category, outcome string) {
	m.update(func(s *Snapshot) { s.Generations[category+"/"+outcome]++ })
}

// ObserveUpstreamDuration records an upstream call duration.
func (m *InMemoryRecorder) ObserveUpstreamDuration(_ string, d time.Duration) {
	m.update(func(s *Snapshot) {
		s.UpstreamCalls++
		s.UpstreamTotal += d
	})
}

// IncUsageRelease counts a refunded reservation.
func (m *InMemoryRecorder) IncUsageRelease(category string) {
	m.update(func(s *Snapshot) { s.UsageReleases[category]++ })
}

// IncUsageEventPublished counts a usage event by publish status.
func (m *InMemoryRecorder) IncUsageEventPublished(status string) {
	m.update(func(s *Snapshot) { s.UsageEventsPublished[status]++ })
}

// IncUsageEventProcessed counts a consumed usage event by status.
func (m *InMemoryRecorder) IncUsageEventProcessed(status string) {
	m.update(func(s *Snapshot) { s.UsageEventsProcessed[status]++ })
}

// SetUsageQueueDepth records the consumer group backlog.
func (m *InMemoryRecorder) SetUsageQueueDepth(depth int64) {
	m.update(func(s *Snapshot) { s.UsageQueueDepth = depth })
}

// ObserveUsageBatch counts a persisted batch.
func (m *InMemoryRecorder) ObserveUsageBatch(int, time.Duration) {
	m.update(func(s *Snapshot) { s.UsageBatches++ })
}
