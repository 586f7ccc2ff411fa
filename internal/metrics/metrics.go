// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	EvaluationsTotal *prometheus.CounterVec
	RiskEventsTotal  *prometheus.CounterVec
	EvaluateSeconds  prometheus.Histogram

	ReviewsTotal  *prometheus.CounterVec
	ReviewSeconds prometheus.Histogram
}

// New creates and registers the engine's collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "evaluations_total",
			Help:      "Transaction evaluations by outcome.",
		}, []string{"outcome"}),
		RiskEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "risk_events_total",
			Help:      "Risk events recorded by rule.",
		}, []string{"rule"}),
		EvaluateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "evaluate_duration_seconds",
			Help:      "Transaction evaluation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReviewsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "session_reviews_total",
			Help:      "Session reviews by resulting status.",
		}, []string{"status"}),
		ReviewSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "session_review_duration_seconds",
			Help:      "Session review latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.RiskEventsTotal,
		m.EvaluateSeconds,
		m.ReviewsTotal,
		m.ReviewSeconds,
	)

	return m
}

// ObserveEvaluation records one completed evaluation. Nil-safe so components
// can run without metrics in tests.
func (m *Metrics) ObserveEvaluation(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(outcome).Inc()
	m.EvaluateSeconds.Observe(seconds)
}

// ObserveRiskEvent records one rule firing.
func (m *Metrics) ObserveRiskEvent(rule string) {
	if m == nil {
		return
	}
	m.RiskEventsTotal.WithLabelValues(rule).Inc()
}

// ObserveReview records one completed session review.
func (m *Metrics) ObserveReview(status string, seconds float64) {
	if m == nil {
		return
	}
	m.ReviewsTotal.WithLabelValues(status).Inc()
	m.ReviewSeconds.Observe(seconds)
}
