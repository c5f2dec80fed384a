package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "useropkit"

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Receipt outcomes.
const (
	OutcomeIncluded = "included"
	OutcomeReverted = "reverted"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// OperationMetrics instruments the UserOperation lifecycle.
type OperationMetrics struct {
	registry *prometheus.Registry

	prepared    *prometheus.CounterVec
	sent        *prometheus.CounterVec
	receipts    *prometheus.CounterVec
	receiptWait *prometheus.HistogramVec
}

// NewOperationMetrics registers the lifecycle metrics on a fresh registry. activePolls,
// when non-nil, is sampled for the active receipt polling loops gauge.
func NewOperationMetrics(activePolls func() int) *OperationMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &OperationMetrics{
		registry: reg,

		prepared: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "userops_prepared_total",
				Help:      "The number of user operations run through the preparation pipeline",
			}, []string{"status"}),

		sent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "userops_sent_total",
				Help:      "The number of user operations submitted to the bundler",
			}, []string{"status"}),

		receipts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "userop_receipts_total",
				Help:      "The number of receipt waits by outcome",
			}, []string{"outcome"}),

		receiptWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "userop_receipt_wait_seconds",
				Help:      "Time spent waiting for a user operation receipt",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			}, []string{"outcome"}),
	}

	if activePolls != nil {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_receipt_polls",
				Help:      "The number of receipt polling loops currently running",
			}, func() float64 { return float64(activePolls()) })
	}
	return m
}

func (m *OperationMetrics) IncPrepared(status string) {
	m.prepared.WithLabelValues(status).Inc()
}

func (m *OperationMetrics) IncSent(status string) {
	m.sent.WithLabelValues(status).Inc()
}

func (m *OperationMetrics) ObserveReceipt(outcome string, waited time.Duration) {
	m.receipts.WithLabelValues(outcome).Inc()
	m.receiptWait.WithLabelValues(outcome).Observe(waited.Seconds())
}

// Prepared, Sent and Receipts expose the counters for a single label value.
func (m *OperationMetrics) Prepared(status string) prometheus.Counter {
	return m.prepared.WithLabelValues(status)
}

func (m *OperationMetrics) Sent(status string) prometheus.Counter {
	return m.sent.WithLabelValues(status)
}

func (m *OperationMetrics) Receipts(outcome string) prometheus.Counter {
	return m.receipts.WithLabelValues(outcome)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *OperationMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *OperationMetrics) Registry() *prometheus.Registry {
	return m.registry
}
