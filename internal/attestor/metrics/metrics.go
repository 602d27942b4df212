package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the attestor.
type Metrics struct {
	// Signatures issued by kid
	Signatures *prometheus.CounterVec

	// Signing failures by reason: "no_active_key", "timeout"
	SignFailures *prometheus.CounterVec

	// Certificate verifications by result
	Verifications *prometheus.CounterVec

	// Active key changes, local or adopted from the key store
	Rotations prometheus.Counter

	SignLatency prometheus.Histogram
}

// New registers attestor metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Signatures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contramind_attestor_signatures_total",
			Help: "Signatures issued by key id",
		}, []string{"kid"}),
		SignFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contramind_attestor_sign_failures_total",
			Help: "Signing attempts that produced no signature, by reason",
		}, []string{"reason"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contramind_attestor_verifications_total",
			Help: "Certificate verifications by result",
		}, []string{"result"}),
		Rotations: f.NewCounter(prometheus.CounterOpts{
			Name: "contramind_attestor_rotations_total",
			Help: "Active key changes",
		}),
		SignLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "contramind_attestor_sign_duration_seconds",
			Help:    "Duration of a bundle signature plus certificate",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) IncrementSignature(kid string) {
	if m != nil {
		m.Signatures.WithLabelValues(kid).Inc()
	}
}

func (m *Metrics) IncrementSignFailure(reason string) {
	if m != nil {
		m.SignFailures.WithLabelValues(reason).Inc()
	}
}

// IncrementVerification records "valid" or the failure reason code.
func (m *Metrics) IncrementVerification(result string) {
	if m != nil {
		m.Verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementRotation() {
	if m != nil {
		m.Rotations.Inc()
	}
}

func (m *Metrics) ObserveSignLatency(d time.Duration) {
	if m != nil {
		m.SignLatency.Observe(d.Seconds())
	}
}
