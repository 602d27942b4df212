// Package decision coordinates idempotent decisions: evaluate once per key,
// persist, sign, and replay the stored result verbatim.
package decision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"contramind/internal/decision/metrics"
	"contramind/internal/decision/ports"
	"contramind/internal/kernel"
	"contramind/internal/ledger/models"
	"contramind/internal/platform/lock"
	"contramind/internal/proof"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/platform/circuit"
	"contramind/pkg/platform/sentinel"
)

const (
	defaultWaitTimeout  = 5 * time.Second
	defaultLeaseTTL     = 10 * time.Second
	defaultPollInterval = 25 * time.Millisecond
	resumeBatchSize     = 100
	leasePrefix         = "decision:"
)

var tracer = otel.Tracer("contramind/decision")

// Service is the idempotency coordinator.
//
// Within one process, callers for the same key share a single flight. Across
// processes they coordinate through a per-key lease; the ledger's unique index
// on the idempotency key is the final arbiter when a lease expires early.
type Service struct {
	params   ports.ParamsSource
	ledger   ports.Ledger
	attestor ports.Attestor
	oneBit   ports.OneBit
	locker   lock.Locker

	group        singleflight.Group
	waitTimeout  time.Duration
	leaseTTL     time.Duration
	pollInterval time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithOneBit enables NEED_ONE_BIT resolution before persistence.
func WithOneBit(oneBit ports.OneBit) Option {
	return func(s *Service) {
		s.oneBit = oneBit
	}
}

func WithWaitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.waitTimeout = d
		}
	}
}

func WithLeaseTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(params ports.ParamsSource, ledger ports.Ledger, attestor ports.Attestor, locker lock.Locker, opts ...Option) *Service {
	s := &Service{
		params:       params,
		ledger:       ledger,
		attestor:     attestor,
		locker:       locker,
		waitTimeout:  defaultWaitTimeout,
		leaseTTL:     defaultLeaseTTL,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit returns the decision for key, evaluating it at most once. An empty
// key is derived from the request. The work continues when the caller goes
// away; a retry with the same key picks up the stored result.
func (s *Service) Submit(ctx context.Context, key string, req kernel.Request) (*Outcome, error) {
	if key == "" {
		auto, err := AutoKey(req)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "request cannot be canonicalized")
		}
		key = auto
	}

	ctx, span := tracer.Start(ctx, "decision.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("idempotency_key", key))
	start := s.now()

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.resolve(detached, key, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "submit failed")
			return nil, res.Err
		}
		outcome := *res.Val.(*Outcome)
		outcome.Obligations = append([]string{}, outcome.Obligations...)
		if res.Shared && !outcome.Replayed {
			// Coalesced callers other than the evaluator see a replay.
			outcome.Replayed = true
		}
		span.SetAttributes(
			attribute.String("decision", outcome.Decision),
			attribute.Bool("replayed", outcome.Replayed),
			attribute.Int64("ledger_id", outcome.LedgerID),
		)
		s.metrics.ObserveSubmitLatency(s.now().Sub(start))
		return &outcome, nil
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "decision still in progress; retry with the same idempotency key")
	}
}

// resolve loops until the key has a final row, this caller owns the lease, or
// the wait budget is spent.
func (s *Service) resolve(ctx context.Context, key string, req kernel.Request) (*Outcome, error) {
	deadline := s.now().Add(s.waitTimeout)
	for {
		entry, err := s.lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil && entry.IsFinal() {
			s.metrics.IncrementReplay()
			return replayed(entry)
		}

		lease, ok, err := s.locker.Acquire(ctx, leasePrefix+key, s.leaseTTL)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "lease store unavailable")
		}
		if ok {
			outcome, err := s.own(ctx, key, req)
			if relErr := s.locker.Release(ctx, lease); relErr != nil {
				s.logger.WarnContext(ctx, "failed to release decision lease", "idempotency_key", key, "error", relErr)
			}
			return outcome, err
		}

		if !s.now().Before(deadline) {
			return nil, dErrors.New(dErrors.CodeTimeout, "decision still in progress; retry with the same idempotency key")
		}
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "decision wait aborted")
		case <-timer.C:
		}
	}
}

// own runs under the key's lease. The row is re-read first: the previous
// holder may have finished or left a pending row behind.
func (s *Service) own(ctx context.Context, key string, req kernel.Request) (*Outcome, error) {
	entry, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		if entry.IsFinal() {
			s.metrics.IncrementReplay()
			return replayed(entry)
		}
		s.metrics.IncrementTakeover()
		s.logger.InfoContext(ctx, "taking over pending decision", "idempotency_key", key, "ledger_id", entry.ID)
		return s.finalize(ctx, entry)
	}

	bundle, decidedAt, err := s.evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	canon, err := bundle.Canonical()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to canonicalize bundle")
	}
	pending := &models.Entry{
		IdempotencyKey: key,
		TS:             decidedAt,
		Decision:       bundle.Decision,
		KernelID:       bundle.KernelID,
		ParamHash:      bundle.ParamHash,
		Bundle:         canon,
	}
	if _, err := s.ledger.Reserve(ctx, pending); err != nil {
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
		}
		// The lease expired under us and another owner reserved the key. Its
		// row wins; this evaluation is discarded.
		s.metrics.IncrementConflict()
		winner, err := s.lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, dErrors.New(dErrors.CodeInternal, "ledger reported a conflict but has no row")
		}
		if winner.IsFinal() {
			return replayed(winner)
		}
		return s.finalize(ctx, winner)
	}
	return s.finalize(ctx, pending)
}

// evaluate runs the kernel on a fresh snapshot and settles NEED_ONE_BIT when a
// one-bit source is configured and reachable. The returned time is the decision
// time at second precision, the same instant the bundle's ts carries.
func (s *Service) evaluate(ctx context.Context, req kernel.Request) (proof.Bundle, time.Time, error) {
	snap, err := s.params.Current(ctx)
	if err != nil {
		return proof.Bundle{}, time.Time{}, err
	}
	result, err := kernel.Evaluate(req, snap)
	if err != nil {
		return proof.Bundle{}, time.Time{}, err
	}
	if result.NeedsOneBit && s.oneBit != nil {
		bit, err := s.oneBit.Query(ctx, req)
		switch {
		case errors.Is(err, circuit.ErrOpen):
			s.metrics.IncrementOneBit("circuit_open")
		case err != nil:
			s.metrics.IncrementOneBit("error")
			s.logger.WarnContext(ctx, "one-bit lookup failed; decision stays NEED_ONE_BIT", "error", err)
		default:
			s.metrics.IncrementOneBit(boolLabel(bit))
			result = kernel.ApplyOneBit(result, bit)
		}
	}
	decidedAt := s.now().UTC().Truncate(time.Second)
	return newBundle(req, result, decidedAt), decidedAt, nil
}

// finalize signs the stored bundle bytes and attaches the certificate. A
// signing failure leaves the row pending and is returned as retryable.
func (s *Service) finalize(ctx context.Context, entry *models.Entry) (*Outcome, error) {
	bundle, err := proof.ParseBundle(entry.Bundle)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "stored bundle is unreadable")
	}
	att, err := s.attestor.Attest(ctx, bundle)
	if err != nil {
		s.logger.ErrorContext(ctx, "signing failed; decision left pending",
			"idempotency_key", entry.IdempotencyKey,
			"ledger_id", entry.ID,
			"error", err,
		)
		if dErrors.HasCode(err, dErrors.CodeSigningUnavailable) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeSigningUnavailable, "signing unavailable")
	}

	final, err := s.ledger.Attach(ctx, entry.IdempotencyKey, models.Attachment{
		BundleSig:   att.SignatureB64,
		KID:         att.KID,
		ProofID:     att.ProofID,
		Certificate: att.Certificate,
		FinalizedAt: s.now().UTC(),
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// Someone finalized it first; theirs is the decision.
		winner, lookupErr := s.lookup(ctx, entry.IdempotencyKey)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if winner == nil || !winner.IsFinal() {
			return nil, dErrors.New(dErrors.CodeInternal, "ledger reported a finalized row that is not final")
		}
		return replayed(winner)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}

	s.metrics.IncrementOutcome(final.Decision)
	s.logger.InfoContext(ctx, "decision finalized",
		"idempotency_key", final.IdempotencyKey,
		"ledger_id", final.ID,
		"decision", final.Decision,
		"kid", final.KID,
		"proof_id", final.ProofID,
	)
	outcome, err := OutcomeFromEntry(final)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "finalized entry is unreadable")
	}
	return outcome, nil
}

// ResumePending finalizes pending rows older than olderThan whose owner is
// gone. Rows whose lease is still held are skipped. It returns how many rows
// this call finalized.
func (s *Service) ResumePending(ctx context.Context, olderThan time.Duration) (int, error) {
	pending, err := s.ledger.ListPending(ctx, s.now().Add(-olderThan), resumeBatchSize)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}
	finalized := 0
	for _, entry := range pending {
		lease, ok, err := s.locker.Acquire(ctx, leasePrefix+entry.IdempotencyKey, s.leaseTTL)
		if err != nil {
			return finalized, dErrors.Wrap(err, dErrors.CodeUnavailable, "lease store unavailable")
		}
		if !ok {
			continue
		}
		current, err := s.lookup(ctx, entry.IdempotencyKey)
		if err == nil && current != nil && !current.IsFinal() {
			s.metrics.IncrementTakeover()
			if _, err = s.finalize(ctx, current); err == nil {
				finalized++
			}
		}
		if relErr := s.locker.Release(ctx, lease); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release decision lease", "idempotency_key", entry.IdempotencyKey, "error", relErr)
		}
		if err != nil {
			return finalized, err
		}
	}
	if finalized > 0 {
		s.logger.InfoContext(ctx, "resumed pending decisions", "count", finalized)
	}
	return finalized, nil
}

// Lookup returns the final outcome stored for key, or a not-found error.
// Pending rows are reported as not found.
func (s *Service) Lookup(ctx context.Context, key string) (*Outcome, error) {
	entry, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil || !entry.IsFinal() {
		return nil, dErrors.New(dErrors.CodeNotFound, "no final decision for this key")
	}
	return replayed(entry)
}

func (s *Service) lookup(ctx context.Context, key string) (*models.Entry, error) {
	entry, err := s.ledger.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}
	return entry, nil
}

func replayed(entry *models.Entry) (*Outcome, error) {
	outcome, err := OutcomeFromEntry(entry)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "stored entry is unreadable")
	}
	outcome.Replayed = true
	return outcome, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
