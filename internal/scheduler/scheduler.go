// Package scheduler drives periodic reconciliation: every interval the
// full selection is resolved against GitHub and each identifier is
// submitted for sync. Deduplication lives in the worker pool, so passes
// submit unconditionally and let pending work absorb the overlap.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/repligit/repligit/internal/identifier"
	"github.com/repligit/repligit/internal/worker"
)

// Source yields the identifiers the configured selection currently covers.
type Source interface {
	Resolve(ctx context.Context) ([]identifier.Identifier, error)
}

// Submitter places sync requests on the work queue.
type Submitter interface {
	Submit(ctx context.Context, req worker.Request) (bool, error)
}

type Scheduler struct {
	source   Source
	pool     Submitter
	interval time.Duration
	logger   *slog.Logger
}

func New(source Source, pool Submitter, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:   source,
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Run performs one pass immediately, then one per interval until ctx is
// canceled. A failed pass is logged and retried at the next interval;
// reconciliation is never fatal to the process.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("reconciliation scheduler started", "interval", s.interval.String())
	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	start := time.Now()
	ids, err := s.source.Resolve(ctx)
	if err != nil {
		s.logger.Error("reconciliation pass failed", "error", err)
		return
	}

	submitted, pending := 0, 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		accepted, err := s.pool.Submit(ctx, worker.NewRequest(id, worker.CauseScheduled, false))
		switch {
		case err != nil:
			s.logger.Warn("reconciliation submit failed", "mirror", id.String(), "error", err)
		case accepted:
			submitted++
		default:
			pending++
		}
	}

	s.logger.Info("reconciliation pass finished",
		"resolved", len(ids),
		"submitted", submitted,
		"already_pending", pending,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
}
