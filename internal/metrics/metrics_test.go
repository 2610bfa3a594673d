package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

type MetricsSuite struct {
	suite.Suite
	reg *prometheus.Registry
	m   *Metrics
}

func (s *MetricsSuite) SetupTest() {
	s.reg = prometheus.NewRegistry()
	s.m = New(s.reg)
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsSuite))
}

func (s *MetricsSuite) TestNilIsNoop() {
	var m *Metrics
	s.NotPanics(func() {
		m.ObserveLimiterWait("t1", time.Second)
		m.ObserveAttempt("query", "success")
		m.ObserveEntityRun("customer", "success", time.Second)
		m.AddRecords("customer", "pull", "upserted", 3)
		m.WebhookEvent("queued")
		m.QueueJob("claimed")
	})
}

func (s *MetricsSuite) TestCounters() {
	s.m.AddRecords("invoice", "pull", "upserted", 4)
	s.m.AddRecords("invoice", "pull", "upserted", 0)
	s.m.QueueJob("claimed")
	s.m.QueueJob("claimed")

	s.Equal(4.0, testutil.ToFloat64(s.m.records.WithLabelValues("invoice", "pull", "upserted")))
	s.Equal(2.0, testutil.ToFloat64(s.m.queueJobs.WithLabelValues("claimed")))
}

func (s *MetricsSuite) TestWebhookExposition() {
	s.m.WebhookEvent("duplicate")

	expected := `
# HELP erp_sync_webhook_events_total Webhook entity changes by outcome
# TYPE erp_sync_webhook_events_total counter
erp_sync_webhook_events_total{outcome="duplicate"} 1
`
	s.NoError(testutil.GatherAndCompare(s.reg, strings.NewReader(expected), "erp_sync_webhook_events_total"))
}
