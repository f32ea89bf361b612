// Package worker runs sync operations across a bounded pool of workers fed
// by a single request queue. Per-mirror mutual exclusion comes from the
// registry: a request is only queued when the registry grants the queued
// state, so at most one request per mirror is ever in the queue or running.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repligit/repligit/internal/identifier"
	"github.com/repligit/repligit/internal/mirror"
	"github.com/repligit/repligit/internal/registry"
)

var (
	// ErrPoolClosed is returned by Submit once Shutdown has begun.
	ErrPoolClosed = errors.New("worker pool is shut down")
	// ErrQueueFull is returned by Submit when the bounded enqueue wait
	// expires. The registry claim is rolled back before returning, so the
	// caller may retry.
	ErrQueueFull = errors.New("work queue is full")
)

// Cause records what triggered a sync request.
type Cause string

const (
	CauseScheduled Cause = "scheduled"
	CauseWebhook   Cause = "webhook"
	CauseManual    Cause = "manual"
)

// Request is one unit of sync work flowing through the pool.
type Request struct {
	ID         uuid.UUID
	Identifier identifier.Identifier
	Cause      Cause
	Deleted    bool
}

// NewRequest builds a Request with a fresh ID for log correlation.
func NewRequest(id identifier.Identifier, cause Cause, deleted bool) Request {
	return Request{
		ID:         uuid.New(),
		Identifier: id,
		Cause:      cause,
		Deleted:    deleted,
	}
}

// Options configures a Pool.
type Options struct {
	Workers        int           // Concurrent sync operations, defaults to 2
	QueueSize      int           // Pending request buffer, defaults to 64
	EnqueueTimeout time.Duration // Bounded wait when the queue is full, defaults to 5s
	Logger         *slog.Logger
}

// Pool owns the request queue and the workers draining it.
type Pool struct {
	registry       *registry.Registry
	syncer         mirror.Syncer
	requests       chan Request
	workers        int
	enqueueTimeout time.Duration
	logger         *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started sync.Once
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewPool creates a Pool. Start or Run must be called before submitting.
func NewPool(reg *registry.Registry, syncer mirror.Syncer, opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	enqueueTimeout := opts.EnqueueTimeout
	if enqueueTimeout <= 0 {
		enqueueTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		registry:       reg,
		syncer:         syncer,
		requests:       make(chan Request, queueSize),
		workers:        workers,
		enqueueTimeout: enqueueTimeout,
		logger:         logger,
	}
}

// Start launches the workers. Safe to call more than once.
func (p *Pool) Start() {
	p.started.Do(func() {
		p.logger.Info("worker pool started", "workers", p.workers)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Run starts the workers and blocks until ctx is canceled, then drains the
// queue and waits for in-flight operations to finish.
func (p *Pool) Run(ctx context.Context) error {
	p.Start()
	<-ctx.Done()
	p.Shutdown()
	return ctx.Err()
}

// Shutdown stops intake and waits until queued and running work has
// drained. Submissions after Shutdown are refused.
func (p *Pool) Shutdown() {
	p.stopped.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.requests)
		p.mu.Unlock()

		p.logger.Info("worker pool draining")
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	})
}

// Submit offers a request to the pool. A request for a mirror that is
// already queued or syncing is dropped (false, nil): the pending work
// covers it. When the queue is full the send waits a bounded time, then
// gives up with an error and rolls the registry claim back.
func (p *Pool) Submit(ctx context.Context, req Request) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false, ErrPoolClosed
	}

	if !p.registry.TryEnqueue(req.Identifier, req.Deleted) {
		p.logger.Debug("sync request dropped",
			"request_id", req.ID,
			"mirror", req.Identifier.String(),
			"cause", req.Cause)
		return false, nil
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()

	select {
	case p.requests <- req:
		p.logger.Debug("sync request enqueued",
			"request_id", req.ID,
			"mirror", req.Identifier.String(),
			"cause", req.Cause,
			"deleted", req.Deleted)
		return true, nil
	case <-ctx.Done():
		p.registry.Release(req.Identifier)
		return false, ctx.Err()
	case <-timer.C:
		p.registry.Release(req.Identifier)
		return false, fmt.Errorf("enqueue %s: %w", req.Identifier, ErrQueueFull)
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.requests {
		p.process(req)
	}
}

func (p *Pool) process(req Request) {
	logger := p.logger.With(
		"request_id", req.ID,
		"mirror", req.Identifier.String(),
		"cause", req.Cause)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during sync", "panic", r)
			p.registry.Finish(req.Identifier, fmt.Errorf("panic: %v", r))
		}
	}()

	deleteRequested, ok := p.registry.Begin(req.Identifier)
	if !ok {
		logger.Warn("request skipped, record no longer queued")
		return
	}

	// Operations run to completion once started; the context is detached
	// from shutdown and bounded by the syncer's own timeout.
	ctx := context.Background()

	if deleteRequested {
		p.remove(ctx, req, logger)
		return
	}

	start := time.Now()
	err := p.syncer.Sync(ctx, req.Identifier)
	p.registry.Finish(req.Identifier, err)
	if err != nil {
		logger.Error("sync failed",
			"elapsed", time.Since(start).Round(time.Millisecond).String(),
			"error", err)
	} else {
		logger.Info("sync finished",
			"elapsed", time.Since(start).Round(time.Millisecond).String())
	}

	// A deletion may have been requested while the sync ran; it was
	// queued behind the operation rather than interleaved with it.
	if p.registry.DeleteRequested(req.Identifier) {
		p.remove(ctx, req, logger)
	}
}

func (p *Pool) remove(ctx context.Context, req Request, logger *slog.Logger) {
	err := p.syncer.Remove(ctx, req.Identifier)
	p.registry.FinishRemove(req.Identifier, err)
	if err != nil {
		logger.Error("mirror deletion failed", "error", err)
	} else {
		logger.Info("mirror deleted")
	}
}
