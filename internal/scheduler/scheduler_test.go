package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/repligit/repligit/internal/identifier"
	"github.com/repligit/repligit/internal/worker"
)

type fakeSource struct {
	mu    sync.Mutex
	ids   []identifier.Identifier
	err   error
	calls int
}

func (f *fakeSource) Resolve(ctx context.Context) ([]identifier.Identifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		err := f.err
		f.err = nil // fail only the first pass
		return nil, err
	}
	return f.ids, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []worker.Request
}

func (f *fakeSubmitter) Submit(ctx context.Context, req worker.Request) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return true, nil
}

func (f *fakeSubmitter) submitted() []worker.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]worker.Request(nil), f.requests...)
}

func mustParse(t *testing.T, s string) identifier.Identifier {
	t.Helper()
	id, err := identifier.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return id
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunPassesImmediatelyAndOnInterval(t *testing.T) {
	source := &fakeSource{ids: []identifier.Identifier{
		mustParse(t, "acme/alpha"),
		mustParse(t, "acme/beta"),
	}}
	pool := &fakeSubmitter{}
	sched := New(source, pool, 20*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	waitFor(t, func() bool { return source.callCount() >= 2 }, "scheduler never ran a second pass")
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}

	reqs := pool.submitted()
	if len(reqs) < 4 {
		t.Fatalf("expected at least 2 passes worth of requests, got %d", len(reqs))
	}
	for _, req := range reqs {
		if req.Cause != worker.CauseScheduled {
			t.Errorf("request cause = %q, want %q", req.Cause, worker.CauseScheduled)
		}
		if req.Deleted {
			t.Error("reconciliation must never submit deletions")
		}
	}
}

func TestFailedPassIsRetriedNextInterval(t *testing.T) {
	source := &fakeSource{
		ids: []identifier.Identifier{mustParse(t, "acme/alpha")},
		err: errors.New("api unreachable"),
	}
	pool := &fakeSubmitter{}
	sched := New(source, pool, 20*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	// The first pass fails; the next one must still happen and submit.
	waitFor(t, func() bool { return len(pool.submitted()) >= 1 }, "no requests submitted after a failed pass")

	if source.callCount() < 2 {
		t.Errorf("expected at least 2 resolution attempts, got %d", source.callCount())
	}
}

func TestPassStopsWhenContextCanceled(t *testing.T) {
	source := &fakeSource{ids: []identifier.Identifier{
		mustParse(t, "acme/alpha"),
		mustParse(t, "acme/beta"),
	}}
	pool := &fakeSubmitter{}
	sched := New(source, pool, time.Hour, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sched.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	// The initial pass observed the canceled context before submitting.
	if n := len(pool.submitted()); n != 0 {
		t.Errorf("expected no submissions after cancel, got %d", n)
	}
}
