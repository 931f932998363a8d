package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the resolver module.
type Metrics struct {
	// Pass outcomes by verdict
	PassOutcome *prometheus.CounterVec

	// Per-account resolution latency
	ResolveLatency prometheus.Histogram

	// Full pass latency including fan-out
	PassLatency prometheus.Histogram

	// Candidates scored per subject account
	CandidatesScored prometheus.Histogram

	// Reviews currently awaiting a verdict
	PendingReviews prometheus.Gauge

	// Decisions applied by kind
	DecisionsApplied *prometheus.CounterVec
}

// New creates a Metrics instance with all resolver metrics registered.
func New() *Metrics {
	return &Metrics{
		PassOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fuseid_resolver_outcomes_total",
			Help: "Total resolution outcomes by verdict",
		}, []string{"outcome"}), // outcome: "auto-link", "pending-review", "new-identity"

		ResolveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fuseid_resolver_resolve_duration_seconds",
			Help:    "Duration of resolving one subject account",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		PassLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fuseid_resolver_pass_duration_seconds",
			Help:    "Duration of a full resolution pass",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		CandidatesScored: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fuseid_resolver_candidates_scored",
			Help:    "Number of candidates scored per subject account",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),

		PendingReviews: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fuseid_resolver_pending_reviews",
			Help: "Reviews currently awaiting a human verdict",
		}),

		DecisionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fuseid_resolver_decisions_applied_total",
			Help: "Total human decisions applied by kind",
		}, []string{"kind"}), // kind: "link", "new-identity"
	}
}

// IncrementOutcome records one resolution verdict.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.PassOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveResolveLatency records the duration of one account resolution.
func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}

// ObservePassLatency records the duration of a full pass.
func (m *Metrics) ObservePassLatency(d time.Duration) {
	if m != nil {
		m.PassLatency.Observe(d.Seconds())
	}
}

// ObserveCandidates records how many candidates one account scored against.
func (m *Metrics) ObserveCandidates(n int) {
	if m != nil {
		m.CandidatesScored.Observe(float64(n))
	}
}

// SetPendingReviews records the current pending review count.
func (m *Metrics) SetPendingReviews(n int) {
	if m != nil {
		m.PendingReviews.Set(float64(n))
	}
}

// IncrementDecision records one applied decision.
func (m *Metrics) IncrementDecision(kind string) {
	if m != nil {
		m.DecisionsApplied.WithLabelValues(kind).Inc()
	}
}
