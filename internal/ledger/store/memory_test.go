package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contramind/internal/ledger/models"
	"contramind/pkg/platform/sentinel"
)

func newEntry(key string) *models.Entry {
	return &models.Entry{
		IdempotencyKey: key,
		TS:             time.Date(2025, 9, 16, 10, 0, 0, 0, time.UTC),
		Decision:       "PASS",
		KernelID:       "cm-kernel/v1",
		ParamHash:      "8f2289ee0273dc26f47fcc92aafda19bb15d247a7768d3b05702401490e0d2f4",
		Bundle:         []byte(`{"decision":"PASS"}`),
	}
}

func attachment(proof string) models.Attachment {
	return models.Attachment{
		BundleSig:   "c2ln",
		KID:         "k1",
		ProofID:     proof,
		Certificate: "h.p.s",
		FinalizedAt: time.Date(2025, 9, 16, 10, 0, 1, 0, time.UTC),
	}
}

func TestReserveAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	for i := 1; i <= 3; i++ {
		e := newEntry(fmt.Sprintf("k%d", i))
		id, err := s.Reserve(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
		assert.Equal(t, id, e.ID)
	}

	maxID, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxID)
}

func TestReserveDuplicateKeyConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	_, err := s.Reserve(ctx, newEntry("dup"))
	require.NoError(t, err)
	_, err = s.Reserve(ctx, newEntry("dup"))
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	const goroutines = 50

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Reserve(ctx, newEntry("race"))
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(goroutines-1), conflicts.Load())
}

func TestAttachFinalizesOnce(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	_, err := s.Reserve(ctx, newEntry("k"))
	require.NoError(t, err)

	pending, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, pending.Status)

	final, err := s.Attach(ctx, "k", attachment("p1"))
	require.NoError(t, err)
	assert.True(t, final.IsFinal())
	assert.Equal(t, "p1", final.ProofID)
	require.NotNil(t, final.FinalizedAt)

	_, err = s.Attach(ctx, "k", attachment("p2"))
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ProofID, "final entries are immutable")

	_, err = s.Attach(ctx, "missing", attachment("p3"))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	_, err := s.Reserve(ctx, newEntry("k"))
	require.NoError(t, err)

	got, _ := s.Get(ctx, "k")
	got.Bundle[0] = 'X'
	got.Decision = "REJECT"

	again, _ := s.Get(ctx, "k")
	assert.Equal(t, `{"decision":"PASS"}`, string(again.Bundle))
	assert.Equal(t, "PASS", again.Decision)
}

func TestRangeSinceAndPending(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 9, 16, 12, 0, 0, 0, time.UTC)
	s := NewInMemory()
	s.now = func() time.Time { return now }

	for i := 1; i <= 5; i++ {
		_, err := s.Reserve(ctx, newEntry(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
	}
	for _, k := range []string{"k1", "k2", "k4"} {
		_, err := s.Attach(ctx, k, attachment("proof-"+k))
		require.NoError(t, err)
	}

	ranged, err := s.Range(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, ranged, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{ranged[0].ID, ranged[1].ID, ranged[2].ID})

	since, err := s.Since(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, int64(4), since[0].ID)

	limited, err := s.Since(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	pending, err := s.ListPending(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "k3", pending[0].IdempotencyKey)
	assert.Equal(t, "k5", pending[1].IdempotencyKey)

	none, err := s.ListPending(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, none, "entries created at the cutoff are not yet abandoned")
}
