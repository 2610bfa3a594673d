package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	limiterWait    *prometheus.HistogramVec
	callAttempts   *prometheus.CounterVec
	entityRuns     *prometheus.CounterVec
	entityDuration *prometheus.HistogramVec
	records        *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	queueJobs      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		limiterWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "erp_sync_rate_limiter_wait_seconds",
			Help:    "Time callers spent blocked on the per-tenant rate limiter",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"tenant"}),

		callAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_sync_api_call_attempts_total",
			Help: "Attempts against the accounting API by operation and outcome",
		}, []string{"operation", "outcome"}),

		entityRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_sync_entity_runs_total",
			Help: "Orchestrated entity runs by entity and status",
		}, []string{"entity", "status"}),

		entityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "erp_sync_entity_run_duration_seconds",
			Help:    "Duration of orchestrated entity runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"entity"}),

		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_sync_records_total",
			Help: "Records handled by the entity workers",
		}, []string{"entity", "direction", "result"}),

		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_sync_webhook_events_total",
			Help: "Webhook entity changes by outcome",
		}, []string{"outcome"}),

		queueJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_sync_queue_jobs_total",
			Help: "Queue jobs by lifecycle event",
		}, []string{"event"}),
	}
}

func (m *Metrics) ObserveLimiterWait(tenantID string, waited time.Duration) {
	if m == nil {
		return
	}
	m.limiterWait.WithLabelValues(tenantID).Observe(waited.Seconds())
}

func (m *Metrics) ObserveAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.callAttempts.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveEntityRun(entity, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.entityRuns.WithLabelValues(entity, status).Inc()
	m.entityDuration.WithLabelValues(entity).Observe(d.Seconds())
}

func (m *Metrics) AddRecords(entity, direction, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(entity, direction, result).Add(float64(n))
}

func (m *Metrics) WebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QueueJob(event string) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(event).Inc()
}
