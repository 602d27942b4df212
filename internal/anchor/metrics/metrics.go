package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the anchor builder.
type Metrics struct {
	// Builder runs by result: "anchored", "idle", "skipped", "error"
	Runs *prometheus.CounterVec

	AnchoredEntries prometheus.Counter

	// Highest ledger id covered by an anchor
	LastAnchoredID prometheus.Gauge

	PublishFailures prometheus.Counter
	RunDuration     prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contramind_anchor_runs_total",
			Help: "Anchor builder runs by result",
		}, []string{"result"}),
		AnchoredEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "contramind_anchor_entries_total",
			Help: "Ledger entries committed to anchors",
		}),
		LastAnchoredID: f.NewGauge(prometheus.GaugeOpts{
			Name: "contramind_anchor_last_ledger_id",
			Help: "Highest ledger id covered by an anchor",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "contramind_anchor_publish_failures_total",
			Help: "Anchor checkpoints that could not be published",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "contramind_anchor_run_duration_seconds",
			Help:    "Duration of one anchor builder run",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncrementRun(result string) {
	if m != nil {
		m.Runs.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) RecordAnchor(toID int64, leaves int) {
	if m != nil {
		m.AnchoredEntries.Add(float64(leaves))
		m.LastAnchoredID.Set(float64(toID))
	}
}

func (m *Metrics) IncrementPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m != nil {
		m.RunDuration.Observe(d.Seconds())
	}
}
