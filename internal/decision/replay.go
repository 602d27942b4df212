package decision

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"contramind/internal/decision/metrics"
	"contramind/internal/decision/ports"
	"contramind/internal/kernel"
	"contramind/internal/ledger/models"
	"contramind/internal/proof"
	"contramind/pkg/canonical"
	dErrors "contramind/pkg/domain-errors"
)

// LedgerReader reads ranges of the ledger for replay.
type LedgerReader interface {
	Range(ctx context.Context, from, to int64) ([]*models.Entry, error)
	MaxID(ctx context.Context) (int64, error)
}

// Drift is a stored decision the current kernel and parameters would decide
// differently.
type Drift struct {
	LedgerID         int64  `json:"ledger_id"`
	IdempotencyKey   string `json:"idempotency_key"`
	Recorded         string `json:"recorded"`
	Now              string `json:"now"`
	RecordedKernelID string `json:"recorded_kernel_id"`
	RecordedParams   string `json:"recorded_param_hash"`
	DigestHex        string `json:"digest_hex"`
}

// ReplayReport summarizes one replay run.
type ReplayReport struct {
	From      int64   `json:"from_id"`
	To        int64   `json:"to_id"`
	Checked   int     `json:"checked"`
	Pending   int     `json:"pending"`
	KernelID  string  `json:"kernel_id"`
	ParamHash string  `json:"param_hash"`
	Drift     []Drift `json:"drift"`
}

// Replayer re-evaluates stored bundles against the current kernel and
// parameters. It never writes.
type Replayer struct {
	ledger  LedgerReader
	params  ports.ParamsSource
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewReplayer(ledger LedgerReader, params ports.ParamsSource, logger *slog.Logger, m *metrics.Metrics) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{ledger: ledger, params: params, logger: logger, metrics: m}
}

// Replay checks ledger ids [from, to]. to <= 0 means the current maximum id.
func (r *Replayer) Replay(ctx context.Context, from, to int64) (ReplayReport, error) {
	if from < 1 {
		from = 1
	}
	if to <= 0 {
		maxID, err := r.ledger.MaxID(ctx)
		if err != nil {
			return ReplayReport{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
		}
		to = maxID
	}
	snap, err := r.params.Current(ctx)
	if err != nil {
		return ReplayReport{}, err
	}
	report := ReplayReport{From: from, To: to, KernelID: kernel.KernelID, ParamHash: snap.Hash(), Drift: []Drift{}}
	if to < from {
		return report, nil
	}

	entries, err := r.ledger.Range(ctx, from, to)
	if err != nil {
		return ReplayReport{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}
	for _, entry := range entries {
		if !entry.IsFinal() {
			report.Pending++
			continue
		}
		report.Checked++
		bundle, err := proof.ParseBundle(entry.Bundle)
		if err != nil {
			return ReplayReport{}, dErrors.Wrap(err, dErrors.CodeInvariantViolation, fmt.Sprintf("ledger entry %d is unreadable", entry.ID))
		}
		req, err := RequestFromInputs(bundle.Inputs)
		if err != nil {
			return ReplayReport{}, dErrors.Wrap(err, dErrors.CodeInvariantViolation, fmt.Sprintf("ledger entry %d has unreadable inputs", entry.ID))
		}
		result, err := kernel.Evaluate(req, snap)
		if err != nil {
			return ReplayReport{}, err
		}
		if agrees(bundle, result) {
			continue
		}
		r.metrics.IncrementDrift("decision")
		report.Drift = append(report.Drift, Drift{
			LedgerID:         entry.ID,
			IdempotencyKey:   entry.IdempotencyKey,
			Recorded:         bundle.Decision,
			Now:              string(result.Decision),
			RecordedKernelID: bundle.KernelID,
			RecordedParams:   bundle.ParamHash,
			DigestHex:        canonical.DigestHex(entry.Bundle),
		})
	}
	r.logger.InfoContext(ctx, "ledger replay finished",
		"from_id", from,
		"to_id", to,
		"checked", report.Checked,
		"drift", len(report.Drift),
	)
	return report, nil
}

// agrees compares a stored decision with a fresh kernel result. A stored
// decision settled by the one-bit lookup agrees with a fresh NEED_ONE_BIT.
func agrees(recorded proof.Bundle, now kernel.Result) bool {
	if recorded.Decision == string(now.Decision) {
		return true
	}
	return now.Decision == kernel.DecisionNeedOneBit &&
		slices.Contains(recorded.Obligations, kernel.ObligationWorldcheckQueried)
}
