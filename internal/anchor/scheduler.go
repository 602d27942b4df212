package anchor

import (
	"context"
	"log/slog"
	"time"

	"contramind/internal/anchor/models"
)

// Resumer finalizes abandoned pending ledger rows.
type Resumer interface {
	ResumePending(ctx context.Context, olderThan time.Duration) (int, error)
}

// KeySyncer adopts key rotations made by other instances.
type KeySyncer interface {
	Sync(ctx context.Context) error
}

// Runner is one anchoring pass.
type Runner interface {
	RunOnce(ctx context.Context) (*models.Anchor, error)
}

// Scheduler drives background upkeep on a fixed interval: resume pending
// decisions, pick up rotated keys, then anchor. A failing step is logged and
// the next step still runs.
type Scheduler struct {
	runner       Runner
	resumer      Resumer
	keys         KeySyncer
	interval     time.Duration
	pendingAfter time.Duration
	logger       *slog.Logger
}

func NewScheduler(runner Runner, resumer Resumer, keys KeySyncer, interval, pendingAfter time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:       runner,
		resumer:      resumer,
		keys:         keys,
		interval:     interval,
		pendingAfter: pendingAfter,
		logger:       logger,
	}
}

// Run ticks until ctx is cancelled. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.InfoContext(ctx, "anchor scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "anchor scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one upkeep pass.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.resumer != nil {
		if n, err := s.resumer.ResumePending(ctx, s.pendingAfter); err != nil {
			s.logger.ErrorContext(ctx, "resuming pending decisions failed", "resumed", n, "error", err)
		}
	}
	if s.keys != nil {
		if err := s.keys.Sync(ctx); err != nil {
			s.logger.ErrorContext(ctx, "key sync failed", "error", err)
		}
	}
	if _, err := s.runner.RunOnce(ctx); err != nil {
		s.logger.ErrorContext(ctx, "anchor run failed", "error", err)
	}
}
