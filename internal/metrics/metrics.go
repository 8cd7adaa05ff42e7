package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec // completed and aborted runs
	runDuration prometheus.Histogram   // whole run, wait included
	probes      *prometheus.CounterVec // existence probes per fixture/node
	fixtureOps  *prometheus.CounterVec // create/delete side effects
	reportSends *prometheus.CounterVec // transport attempts
}

func (m *Metrics) IncRun(success bool) {
	m.runs.WithLabelValues(boolToResult(success)).Inc()
}

func (m *Metrics) SetRunDuration(duration time.Duration) {
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncProbe(kind, node, outcome string) {
	if kind == "" || node == "" {
		return
	}
	m.probes.WithLabelValues(kind, node, outcome).Inc()
}

func (m *Metrics) IncFixtureOp(operation, kind string, success bool) {
	if !isValidOperation(operation) || kind == "" {
		return
	}
	m.fixtureOps.WithLabelValues(operation, kind, boolToResult(success)).Inc()
}

func (m *Metrics) IncReportSend(success bool) {
	m.reportSends.WithLabelValues(boolToResult(success)).Inc()
}

func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "create", "delete", "install", "uninstall":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "adconverge"

	m := &Metrics{
		registry: registry,

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total verification runs",
		}, []string{"status"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of verification runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Total fixture existence probes",
		}, []string{"kind", "node", "outcome"}),

		fixtureOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixture_ops_total",
			Help:      "Total fixture create/delete operations",
		}, []string{"operation", "kind", "status"}),

		reportSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_sends_total",
			Help:      "Total report transport attempts",
		}, []string{"status"}),
	}

	if register {
		registry.MustRegister(
			m.runs,
			m.runDuration,
			m.probes,
			m.fixtureOps,
			m.reportSends,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
