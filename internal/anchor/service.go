// Package anchor commits finalized ledger ranges to signed Merkle checkpoints.
package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"contramind/internal/anchor/metrics"
	"contramind/internal/anchor/models"
	"contramind/internal/attestor"
	ledgermodels "contramind/internal/ledger/models"
	"contramind/internal/platform/lock"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/platform/sentinel"
)

const (
	defaultBatchSize = 1000
	defaultLeaseTTL  = 2 * time.Minute
	leaseKey         = "anchor:builder"
)

var tracer = otel.Tracer("contramind/anchor")

// Ledger is what the builder reads from the decision ledger.
type Ledger interface {
	Since(ctx context.Context, afterID int64, limit int) ([]*ledgermodels.Entry, error)
	LockForAnchoring(ctx context.Context) error
}

// Store persists anchors with a compare-and-set on the previous boundary.
type Store interface {
	Insert(ctx context.Context, a models.Anchor, prevToID int64) (*models.Anchor, error)
	Latest(ctx context.Context) (*models.Anchor, error)
	Get(ctx context.Context, id int64) (*models.Anchor, error)
}

// Signer signs canonical checkpoint bytes under the active key.
type Signer interface {
	Sign(ctx context.Context, canonical []byte) (attestor.Signature, error)
}

// Publisher announces committed anchors.
type Publisher interface {
	Publish(ctx context.Context, a models.Anchor) error
}

// TxRunner runs fn in a transaction carried by the context it is given.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Builder is the single writer of anchors.
type Builder struct {
	ledger    Ledger
	store     Store
	signer    Signer
	locker    lock.Locker
	tx        TxRunner
	publisher Publisher

	batchSize int
	leaseTTL  time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

// WithTx runs the ledger lock and range read in one transaction.
func WithTx(tx TxRunner) Option {
	return func(b *Builder) {
		if tx != nil {
			b.tx = tx
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(b *Builder) {
		b.publisher = p
	}
}

func WithBatchSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

func WithLeaseTTL(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.leaseTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

func New(ledger Ledger, store Store, signer Signer, locker lock.Locker, opts ...Option) *Builder {
	b := &Builder{
		ledger:    ledger,
		store:     store,
		signer:    signer,
		locker:    locker,
		tx:        noTx{},
		publisher: NoopPublisher{},
		batchSize: defaultBatchSize,
		leaseTTL:  defaultLeaseTTL,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RunOnce anchors the next contiguous run of final entries. It returns nil
// when there is nothing to anchor or another instance holds the builder lease.
func (b *Builder) RunOnce(ctx context.Context) (*models.Anchor, error) {
	ctx, span := tracer.Start(ctx, "anchor.RunOnce")
	defer span.End()
	start := b.now()
	defer func() { b.metrics.ObserveRun(b.now().Sub(start)) }()

	lease, ok, err := b.locker.Acquire(ctx, leaseKey, b.leaseTTL)
	if err != nil {
		b.metrics.IncrementRun("error")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "lease store unavailable")
	}
	if !ok {
		b.metrics.IncrementRun("skipped")
		return nil, nil
	}
	defer func() {
		if relErr := b.locker.Release(ctx, lease); relErr != nil {
			b.logger.WarnContext(ctx, "failed to release anchor lease", "error", relErr)
		}
	}()

	anchored, err := b.build(ctx)
	if err != nil {
		b.metrics.IncrementRun("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "anchor run failed")
		return nil, err
	}
	if anchored == nil {
		b.metrics.IncrementRun("idle")
		return nil, nil
	}

	b.metrics.IncrementRun("anchored")
	b.metrics.RecordAnchor(anchored.ToID, anchored.LeafCount)
	span.SetAttributes(
		attribute.Int64("anchor_id", anchored.ID),
		attribute.Int64("from_id", anchored.FromID),
		attribute.Int64("to_id", anchored.ToID),
	)
	b.logger.InfoContext(ctx, "ledger range anchored",
		"anchor_id", anchored.ID,
		"from_id", anchored.FromID,
		"to_id", anchored.ToID,
		"leaf_count", anchored.LeafCount,
		"merkle_root", anchored.MerkleRoot,
		"kid", anchored.KID,
	)
	if err := b.publisher.Publish(ctx, *anchored); err != nil {
		b.metrics.IncrementPublishFailure()
		b.logger.ErrorContext(ctx, "failed to publish anchor checkpoint", "anchor_id", anchored.ID, "error", err)
	}
	return anchored, nil
}

// anchorRange is a run of final entries read under the ledger lock, together
// with the boundary the new anchor must extend.
type anchorRange struct {
	prevToID int64
	entries  []*ledgermodels.Entry
}

// build reads the range under the ledger lock, then signs and inserts it after
// the transaction ends so inserts into the ledger wait only for the read. The
// insert's compare-and-set on prevToID guards the boundary.
func (b *Builder) build(ctx context.Context) (*models.Anchor, error) {
	var r *anchorRange
	err := b.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = b.readRange(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	return b.commit(ctx, r)
}

func (b *Builder) readRange(ctx context.Context) (*anchorRange, error) {
	if err := b.ledger.LockForAnchoring(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}
	var prevToID int64
	latest, err := b.store.Latest(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "anchor store unavailable")
	default:
		prevToID = latest.ToID
	}

	entries, err := b.ledger.Since(ctx, prevToID, b.batchSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}
	prefix := finalPrefix(entries)
	if len(prefix) == 0 {
		return nil, nil
	}
	return &anchorRange{prevToID: prevToID, entries: prefix}, nil
}

func (b *Builder) commit(ctx context.Context, r *anchorRange) (*models.Anchor, error) {
	proofIDs := make([]string, len(r.entries))
	for i, e := range r.entries {
		proofIDs[i] = e.ProofID
	}
	root, err := MerkleRoot(proofIDs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build merkle root")
	}
	a := models.Anchor{
		FromID:     r.entries[0].ID,
		ToID:       r.entries[len(r.entries)-1].ID,
		MerkleRoot: root,
		LeafCount:  len(r.entries),
	}
	canon, err := a.Checkpoint().Canonical()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to canonicalize checkpoint")
	}
	sig, err := b.signer.Sign(ctx, canon)
	if err != nil {
		return nil, err
	}
	a.KID = sig.KID
	a.Signature = sig.B64()

	stored, err := b.store.Insert(ctx, a, r.prevToID)
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "anchor boundary moved; another builder committed first")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "anchor store unavailable")
	}
	return stored, nil
}

// finalPrefix returns the leading final entries. Anchoring stops at the first
// pending row so a later run covers it once it is signed.
func finalPrefix(entries []*ledgermodels.Entry) []*ledgermodels.Entry {
	for i, e := range entries {
		if !e.IsFinal() {
			return entries[:i]
		}
	}
	return entries
}

// Latest returns the newest anchor.
func (b *Builder) Latest(ctx context.Context) (*models.Anchor, error) {
	a, err := b.store.Latest(ctx)
	return b.found(a, err)
}

func (b *Builder) Get(ctx context.Context, id int64) (*models.Anchor, error) {
	a, err := b.store.Get(ctx, id)
	return b.found(a, err)
}

func (b *Builder) found(a *models.Anchor, err error) (*models.Anchor, error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "anchor not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "anchor store unavailable")
	}
	return a, nil
}
