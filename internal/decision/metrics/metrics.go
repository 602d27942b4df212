package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision module.
type Metrics struct {
	// Decisions finalized by this instance, by decision
	DecisionOutcome *prometheus.CounterVec

	// Requests answered from an existing ledger row
	Replays prometheus.Counter

	// Reserve lost to a concurrent owner of the same key
	IdempotencyConflicts prometheus.Counter

	// Pending rows finalized by someone other than their creator
	Takeovers prometheus.Counter

	// One-bit lookups by result: "true", "false", "error", "circuit_open"
	OneBitQueries *prometheus.CounterVec

	// Drift found by replays, by kind: "decision", "param_hash", "kernel_id"
	Drift *prometheus.CounterVec

	SubmitLatency prometheus.Histogram
}

// New registers decision metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contramind_decision_outcomes_total",
			Help: "Decisions finalized by decision",
		}, []string{"decision"}),
		Replays: f.NewCounter(prometheus.CounterOpts{
			Name: "contramind_decision_replays_total",
			Help: "Requests answered from an existing ledger row",
		}),
		IdempotencyConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "contramind_decision_idempotency_conflicts_total",
			Help: "Ledger reservations that lost to a concurrent owner",
		}),
		Takeovers: f.NewCounter(prometheus.CounterOpts{
			Name: "contramind_decision_takeovers_total",
			Help: "Pending ledger rows finalized by a new owner",
		}),
		OneBitQueries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contramind_decision_onebit_queries_total",
			Help: "One-bit verification lookups by result",
		}, []string{"result"}),
		Drift: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contramind_decision_replay_drift_total",
			Help: "Stored decisions that differ on re-evaluation, by kind",
		}, []string{"kind"}),
		SubmitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "contramind_decision_submit_duration_seconds",
			Help:    "Duration of a submit including evaluation, persistence and signing",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncrementOutcome(decision string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) IncrementReplay() {
	if m != nil {
		m.Replays.Inc()
	}
}

func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.IdempotencyConflicts.Inc()
	}
}

func (m *Metrics) IncrementTakeover() {
	if m != nil {
		m.Takeovers.Inc()
	}
}

func (m *Metrics) IncrementOneBit(result string) {
	if m != nil {
		m.OneBitQueries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementDrift(kind string) {
	if m != nil {
		m.Drift.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveSubmitLatency(d time.Duration) {
	if m != nil {
		m.SubmitLatency.Observe(d.Seconds())
	}
}
