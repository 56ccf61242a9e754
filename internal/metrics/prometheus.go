package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// PrometheusRecorder implements Recorder on a private Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	registrations    prometheus.Counter
	keyRotations     prometheus.Counter
	authFailures     *prometheus.CounterVec
	throttled        prometheus.Counter
	quotaRejections  *prometheus.CounterVec
	keyCacheLookups  *prometheus.CounterVec
	generations      *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	usageReleases    *prometheus.CounterVec
	usageEvents      *prometheus.CounterVec
	usageProcessed   *prometheus.CounterVec
	usageQueueDepth  prometheus.Gauge
	usageBatchSize   prometheus.Histogram
	usageBatchTime   prometheus.Histogram
}

// NewPrometheus creates and registers the gateway metrics along with the
// Go runtime and process collectors.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()

	p := &PrometheusRecorder{
		registry: reg,
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Accounts registered.",
		}),
		keyRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "API keys rotated.",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Requests rejected by the auth gate, by reason.",
		}, []string{"reason"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_requests_total",
			Help:      "Requests rejected by the per-address throttle.",
		}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Requests rejected for exhausted quota, by period.",
		}, []string{"period"}),
		keyCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_cache_lookups_total",
			Help:      "API key cache lookups, by result.",
		}, []string{"result"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation requests, by category and outcome.",
		}, []string{"category", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream provider call latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"category"}),
		usageReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_releases_total",
			Help:      "Usage reservations refunded after a failed generation.",
		}, []string{"category"}),
		usageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_events_published_total",
			Help:      "Usage events sent to the stream, by status.",
		}, []string{"status"}),
		usageProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_events_processed_total",
			Help:      "Usage events consumed from the stream, by status.",
		}, []string{"status"}),
		usageQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_events_queue_depth",
			Help:      "Pending plus unread usage events in the consumer group.",
		}),
		usageBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_batch_size",
			Help:      "Usage events persisted per batch.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500},
		}),
		usageBatchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_batch_duration_seconds",
			Help:      "Time to persist a batch of usage events.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.registrations,
		p.keyRotations,
		p.authFailures,
		p.throttled,
		p.quotaRejections,
		p.keyCacheLookups,
		p.generations,
		p.upstreamDuration,
		p.usageReleases,
		p.usageEvents,
		p.usageProcessed,
		p.usageQueueDepth,
		p.usageBatchSize,
		p.usageBatchTime,
	)
	return p
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (p *PrometheusRecorder) IncRegistration() { p.registrations.Inc() }
func (p *PrometheusRecorder) IncKeyRotation()  { p.keyRotations.Inc() }
func (p *PrometheusRecorder) IncThrottled()    { p.throttled.Inc() }

func (p *PrometheusRecorder) IncAuthFailure(reason string) {
	p.authFailures.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncQuotaRejection(period string) {
	p.quotaRejections.WithLabelValues(period).Inc()
}

func (p *PrometheusRecorder) IncKeyCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.keyCacheLookups.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncGeneration(category, outcome string) {
	p.generations.WithLabelValues(category, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveUpstreamDuration(category string, d time.Duration) {
	p.upstreamDuration.WithLabelValues(category).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncUsageRelease(category string) {
	p.usageReleases.WithLabelValues(category).Inc()
}

func (p *PrometheusRecorder) IncUsageEventPublished(status string) {
	p.usageEvents.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncUsageEventProcessed(status string) {
	p.usageProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) SetUsageQueueDepth(depth int64) {
	p.usageQueueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) ObserveUsageBatch(size int, d time.Duration) {
	p.usageBatchSize.Observe(float64(size))
	p.usageBatchTime.Observe(d.Seconds())
}
