package anchor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contramind/internal/anchor/models"
)

type countingRunner struct{ calls atomic.Int32 }

func (r *countingRunner) RunOnce(context.Context) (*models.Anchor, error) {
	r.calls.Add(1)
	return nil, nil
}

type failingResumer struct {
	olderThan time.Duration
	calls     atomic.Int32
}

func (f *failingResumer) ResumePending(_ context.Context, olderThan time.Duration) (int, error) {
	f.olderThan = olderThan
	f.calls.Add(1)
	return 0, errors.New("ledger unavailable")
}

type syncFunc func(context.Context) error

func (f syncFunc) Sync(ctx context.Context) error { return f(ctx) }

func TestTickRunsEveryStepDespiteFailures(t *testing.T) {
	var logs bytes.Buffer
	runner := &countingRunner{}
	resumer := &failingResumer{}
	var synced atomic.Int32
	keys := syncFunc(func(context.Context) error {
		synced.Add(1)
		return errors.New("key store unavailable")
	})

	s := NewScheduler(runner, resumer, keys, time.Minute, 30*time.Second, slog.New(slog.NewTextHandler(&logs, nil)))
	s.Tick(context.Background())

	assert.EqualValues(t, 1, resumer.calls.Load())
	assert.Equal(t, 30*time.Second, resumer.olderThan)
	assert.EqualValues(t, 1, synced.Load())
	assert.EqualValues(t, 1, runner.calls.Load())
	assert.Contains(t, logs.String(), "resuming pending decisions failed")
	assert.Contains(t, logs.String(), "key sync failed")
}

func TestRunTicksUntilCancelled(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil, 5*time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
