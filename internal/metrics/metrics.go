package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRegistry holds all Prometheus metrics for tourdesk
type MetricsRegistry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Reconciliation Metrics
	RemoteEventsTotal  *prometheus.CounterVec
	ConflictsTotal     *prometheus.CounterVec
	MutationsTotal     *prometheus.CounterVec
	CollectionSize     *prometheus.GaugeVec
	StreamLive         *prometheus.GaugeVec
	RetryAttemptsTotal *prometheus.CounterVec
	CapabilityLookups  *prometheus.CounterVec
	LiveClients        prometheus.Gauge
	SyncJobDuration    *prometheus.HistogramVec
	NotificationsTotal *prometheus.CounterVec
}

// NewMetricsRegistry registers every metric with reg. Tests pass a fresh
// prometheus.NewRegistry() so registrations never collide.
func NewMetricsRegistry(reg prometheus.Registerer) *MetricsRegistry {
	factory := promauto.With(reg)

	return &MetricsRegistry{
		// HTTP Metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_http_requests_total",
				Help: "Total HTTP requests processed by endpoint, method, and status code",
			},
			[]string{"endpoint", "method", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tourdesk_http_request_duration_seconds",
				Help:    "HTTP request latency distribution in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "method"},
		),
		HTTPRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tourdesk_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"endpoint"},
		),

		// Reconciliation Metrics
		RemoteEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_remote_events_total",
				Help: "Change stream events merged into the collections, by kind and resulting action",
			},
			[]string{"kind", "action"},
		),
		ConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_reconcile_conflicts_total",
				Help: "Remote changes that replaced a pending optimistic value",
			},
			[]string{"kind"},
		),
		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_mutations_total",
				Help: "Optimistic mutations by kind, operation and result",
			},
			[]string{"kind", "op", "result"},
		),
		CollectionSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tourdesk_collection_records",
				Help: "Records currently held in each reconciled collection",
			},
			[]string{"kind"},
		),
		StreamLive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tourdesk_change_stream_live",
				Help: "1 while the change stream subscription for a kind is healthy",
			},
			[]string{"kind"},
		),
		RetryAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_retry_attempts_total",
				Help: "Remote call attempts by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		CapabilityLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_capability_lookups_total",
				Help: "Schema capability lookups by result",
			},
			[]string{"result"},
		),
		LiveClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tourdesk_live_clients",
				Help: "Connected websocket clients",
			},
		),
		SyncJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tourdesk_sync_job_duration_seconds",
				Help:    "Sync job execution time in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"job_name"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_notifications_total",
				Help: "User-visible notifications by level",
			},
			[]string{"level"},
		),
	}
}

// ObserveRetry matches retry.Observer
func (m *MetricsRegistry) ObserveRetry(operation, outcome string) {
	m.RetryAttemptsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveCapability matches capability.Cache.Observe
func (m *MetricsRegistry) ObserveCapability(result string) {
	m.CapabilityLookups.WithLabelValues(result).Inc()
}

func (m *MetricsRegistry) RemoteEvent(kind, action string) {
	m.RemoteEventsTotal.WithLabelValues(kind, action).Inc()
}

func (m *MetricsRegistry) Conflict(kind string) {
	m.ConflictsTotal.WithLabelValues(kind).Inc()
}

func (m *MetricsRegistry) Mutation(kind, op, result string) {
	m.MutationsTotal.WithLabelValues(kind, op, result).Inc()
}

func (m *MetricsRegistry) SetCollectionSize(kind string, n int) {
	m.CollectionSize.WithLabelValues(kind).Set(float64(n))
}

func (m *MetricsRegistry) SetStreamLive(kind string, live bool) {
	v := 0.0
	if live {
		v = 1
	}
	m.StreamLive.WithLabelValues(kind).Set(v)
}

func (m *MetricsRegistry) Notification(level string) {
	m.NotificationsTotal.WithLabelValues(level).Inc()
}

// ObserveSyncJob records how long a background job run took
func (m *MetricsRegistry) ObserveSyncJob(job string, d time.Duration) {
	m.SyncJobDuration.WithLabelValues(job).Observe(d.Seconds())
}
