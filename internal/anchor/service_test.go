package anchor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"contramind/internal/anchor/models"
	"contramind/internal/anchor/store"
	"contramind/internal/attestor"
	attestorstore "contramind/internal/attestor/store"
	ledgermodels "contramind/internal/ledger/models"
	ledgerstore "contramind/internal/ledger/store"
	"contramind/internal/platform/lock"
	dErrors "contramind/pkg/domain-errors"
)

type recordingPublisher struct {
	mu      sync.Mutex
	anchors []models.Anchor
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, a models.Anchor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anchors = append(p.anchors, a)
	return p.err
}

// racingStore commits a competing anchor right before the builder's insert.
type racingStore struct {
	*store.InMemoryStore
}

func (r racingStore) Insert(ctx context.Context, a models.Anchor, prevToID int64) (*models.Anchor, error) {
	if _, err := r.InMemoryStore.Insert(ctx, models.Anchor{FromID: prevToID + 1, ToID: prevToID + 1, MerkleRoot: "other", LeafCount: 1}, prevToID); err != nil {
		return nil, err
	}
	return r.InMemoryStore.Insert(ctx, a, prevToID)
}

type inTxKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(inTxKey{}).(bool)
	return v
}

// markingTx tags the context it hands to fn so collaborators can tell
// whether they were called inside the transaction.
type markingTx struct {
	runs int
}

func (m *markingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.runs++
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

type txRecorder struct {
	mu    sync.Mutex
	calls map[string]bool
}

func (r *txRecorder) record(ctx context.Context, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]bool{}
	}
	r.calls[op] = inTx(ctx)
}

type recordingLedger struct {
	*ledgerstore.InMemoryStore
	rec *txRecorder
}

func (l recordingLedger) LockForAnchoring(ctx context.Context) error {
	l.rec.record(ctx, "lock")
	return l.InMemoryStore.LockForAnchoring(ctx)
}

func (l recordingLedger) Since(ctx context.Context, afterID int64, limit int) ([]*ledgermodels.Entry, error) {
	l.rec.record(ctx, "since")
	return l.InMemoryStore.Since(ctx, afterID, limit)
}

type recordingSigner struct {
	inner Signer
	rec   *txRecorder
}

func (r recordingSigner) Sign(ctx context.Context, canonical []byte) (attestor.Signature, error) {
	r.rec.record(ctx, "sign")
	return r.inner.Sign(ctx, canonical)
}

type recordingStore struct {
	*store.InMemoryStore
	rec *txRecorder
}

func (r recordingStore) Insert(ctx context.Context, a models.Anchor, prevToID int64) (*models.Anchor, error) {
	r.rec.record(ctx, "insert")
	return r.InMemoryStore.Insert(ctx, a, prevToID)
}

type BuilderSuite struct {
	suite.Suite
	ctx       context.Context
	ledger    *ledgerstore.InMemoryStore
	anchors   *store.InMemoryStore
	attestor  *attestor.Service
	locker    *lock.MemoryLocker
	publisher *recordingPublisher
	builder   *Builder
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = ledgerstore.NewInMemory()
	s.anchors = store.NewInMemory()
	s.attestor = attestor.New("anchor-seed", attestorstore.NewInMemory())
	s.Require().NoError(s.attestor.Bootstrap(s.ctx, "k1", nil))
	s.locker = lock.NewMemoryLocker()
	s.publisher = &recordingPublisher{}
	s.builder = New(s.ledger, s.anchors, s.attestor, s.locker, WithPublisher(s.publisher))
}

// addEntry reserves a ledger row and, when final is set, finalizes it.
func (s *BuilderSuite) addEntry(key string, final bool) *ledgermodels.Entry {
	entry := &ledgermodels.Entry{
		IdempotencyKey: key,
		TS:             time.Date(2025, 9, 16, 12, 0, 0, 0, time.UTC),
		Decision:       "PASS",
		Bundle:         []byte(`{"decision":"PASS"}`),
	}
	_, err := s.ledger.Reserve(s.ctx, entry)
	s.Require().NoError(err)
	if final {
		s.finalize(key)
	}
	return entry
}

func (s *BuilderSuite) finalize(key string) {
	_, err := s.ledger.Attach(s.ctx, key, ledgermodels.Attachment{
		BundleSig: "c2ln", KID: "k1", ProofID: "proof-" + key, Certificate: "cert", FinalizedAt: time.Now(),
	})
	s.Require().NoError(err)
}

func (s *BuilderSuite) TestEmptyLedgerIsANoOp() {
	a, err := s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Nil(a)
	_, err = s.builder.Latest(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *BuilderSuite) TestAnchorsFinalEntriesWithSignedCheckpoint() {
	for i := range 3 {
		s.addEntry(fmt.Sprintf("e%d", i), true)
	}

	a, err := s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(a)
	s.EqualValues(1, a.FromID)
	s.EqualValues(3, a.ToID)
	s.Equal(3, a.LeafCount)
	s.Equal("k1", a.KID)

	root, err := MerkleRoot([]string{"proof-e0", "proof-e1", "proof-e2"})
	s.Require().NoError(err)
	s.Equal(root, a.MerkleRoot)

	canon, err := a.Checkpoint().Canonical()
	s.Require().NoError(err)
	s.Equal(`{"from_id":1,"leaf_count":3,"merkle_root":"`+root+`","to_id":3,"type":"anchor"}`, string(canon))
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	s.Require().NoError(err)
	s.True(s.attestor.VerifyBundle(canon, sig, a.KID))

	entries, err := s.ledger.Range(s.ctx, a.FromID, a.ToID)
	s.Require().NoError(err)
	s.NoError(VerifyRange(entries, *a))

	s.Require().Len(s.publisher.anchors, 1)
	s.Equal(*a, s.publisher.anchors[0])

	again, err := s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Nil(again, "nothing new to anchor")
}

func (s *BuilderSuite) TestStopsAtFirstPendingEntryAndResumes() {
	s.addEntry("a", true)
	s.addEntry("b", true)
	s.addEntry("c", false)
	s.addEntry("d", true)

	first, err := s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, first.FromID)
	s.EqualValues(2, first.ToID)

	none, err := s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Nil(none, "blocked behind the pending row")

	s.finalize("c")
	second, err := s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(3, second.FromID, "ranges are contiguous")
	s.EqualValues(4, second.ToID)

	latest, err := s.builder.Latest(s.ctx)
	s.Require().NoError(err)
	s.Equal(second.ID, latest.ID)
	got, err := s.builder.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(*first, *got)
}

func (s *BuilderSuite) TestBatchSizeBoundsOneRun() {
	for i := range 5 {
		s.addEntry(fmt.Sprintf("e%d", i), true)
	}
	builder := New(s.ledger, s.anchors, s.attestor, s.locker, WithBatchSize(2))

	var ranges [][2]int64
	for {
		a, err := builder.RunOnce(s.ctx)
		s.Require().NoError(err)
		if a == nil {
			break
		}
		ranges = append(ranges, [2]int64{a.FromID, a.ToID})
	}
	s.Equal([][2]int64{{1, 2}, {3, 4}, {5, 5}}, ranges)
}

func (s *BuilderSuite) TestSkipsWhileAnotherBuilderHoldsTheLease() {
	s.addEntry("a", true)
	lease, ok, err := s.locker.Acquire(s.ctx, leaseKey, time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	a, err := s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Nil(a)

	s.Require().NoError(s.locker.Release(s.ctx, lease))
	a, err = s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.NotNil(a)
}

func (s *BuilderSuite) TestConcurrentInsertLosesCompareAndSet() {
	s.addEntry("a", true)
	builder := New(s.ledger, racingStore{s.anchors}, s.attestor, s.locker)

	_, err := builder.RunOnce(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	latest, err := s.anchors.Latest(s.ctx)
	s.Require().NoError(err)
	s.Equal("other", latest.MerkleRoot)
}

func (s *BuilderSuite) TestSignsAndInsertsAfterTheLockedRead() {
	s.addEntry("a", true)
	s.addEntry("b", true)
	rec := &txRecorder{}
	tx := &markingTx{}
	builder := New(
		recordingLedger{s.ledger, rec},
		recordingStore{s.anchors, rec},
		recordingSigner{s.attestor, rec},
		s.locker,
		WithTx(tx),
	)

	a, err := builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(a)
	s.Equal(1, tx.runs)
	s.Equal(map[string]bool{"lock": true, "since": true, "sign": false, "insert": false}, rec.calls)
	s.EqualValues(1, a.FromID)
	s.EqualValues(2, a.ToID)
}

func (s *BuilderSuite) TestPublishFailureKeepsTheAnchor() {
	s.addEntry("a", true)
	s.publisher.err = errors.New("broker down")

	a, err := s.builder.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(a)
	latest, err := s.builder.Latest(s.ctx)
	s.Require().NoError(err)
	s.Equal(a.ID, latest.ID)
}

func (s *BuilderSuite) TestSigningUnavailableWritesNothing() {
	s.addEntry("a", true)
	unbooted := attestor.New("anchor-seed", attestorstore.NewInMemory())
	builder := New(s.ledger, s.anchors, unbooted, s.locker)

	_, err := builder.RunOnce(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeSigningUnavailable))
	_, err = s.anchors.Latest(s.ctx)
	s.Error(err)
}
