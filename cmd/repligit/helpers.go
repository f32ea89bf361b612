package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"github.com/repligit/repligit/internal/config"
	"github.com/repligit/repligit/internal/db"
	"github.com/repligit/repligit/internal/github"
	"github.com/repligit/repligit/internal/identifier"
	"github.com/repligit/repligit/internal/logger"
	"github.com/repligit/repligit/internal/mirror"
	"github.com/repligit/repligit/internal/models"
	"github.com/repligit/repligit/internal/registry"
	"github.com/repligit/repligit/internal/resolver"
	"github.com/repligit/repligit/internal/worker"
)

// stack bundles what the one-shot commands wire up: everything the server
// runs except the HTTP endpoint and the scheduler.
type stack struct {
	cfg      *config.Config
	database *gorm.DB
	registry *registry.Registry
	store    *mirror.Store
	pool     *worker.Pool
}

// buildStack loads configuration and starts a worker pool. workers
// overrides the configured worker count when positive.
func buildStack(workers int) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.Log.Format, cfg.Log.Level)

	database, err := db.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	reg := registry.New(database, slog.Default())
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load mirror records: %w", err)
	}

	store, err := mirror.NewStore(mirror.Options{
		Root:     cfg.Mirror.Root,
		CloneURL: cfg.Mirror.CloneURL,
		User:     cfg.GitHub.User,
		Token:    cfg.GitHub.Token,
		Timeout:  cfg.Sync.Timeout,
		Logger:   slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mirror store: %w", err)
	}

	if workers <= 0 {
		workers = cfg.Sync.Workers
	}
	pool := worker.NewPool(reg, store, worker.Options{
		Workers:        workers,
		QueueSize:      cfg.Sync.QueueSize,
		EnqueueTimeout: cfg.Sync.EnqueueTimeout,
		Logger:         slog.Default(),
	})
	pool.Start()

	return &stack{cfg: cfg, database: database, registry: reg, store: store, pool: pool}, nil
}

// resolve expands patterns through the GitHub API.
func (s *stack) resolve(ctx context.Context, patterns []identifier.Pattern) ([]identifier.Identifier, error) {
	client := github.NewClient(github.Options{
		BaseURL: s.cfg.GitHub.APIURL,
		Token:   s.cfg.GitHub.Token,
		Logger:  slog.Default(),
	})
	return resolver.New(client, patterns, slog.Default()).Resolve(ctx)
}

// reviveRemoved forgets the records of previously deleted mirrors so an
// explicit command can act on those identifiers again.
func (s *stack) reviveRemoved(ids []identifier.Identifier) {
	for _, id := range ids {
		if rec, ok := s.registry.Get(id); ok && rec.State == models.MirrorStateRemoved {
			s.registry.Forget(id)
		}
	}
}

// submitAll places one manual request per identifier. Queue backpressure
// is waited out; the workers drain the queue while this loop blocks.
func (s *stack) submitAll(ctx context.Context, ids []identifier.Identifier, deleted bool) error {
	for _, id := range ids {
		for {
			_, err := s.pool.Submit(ctx, worker.NewRequest(id, worker.CauseManual, deleted))
			if err == nil {
				break
			}
			if errors.Is(err, worker.ErrQueueFull) {
				continue
			}
			return fmt.Errorf("submitting %s: %w", id, err)
		}
	}
	return nil
}

// drainAndReport waits for the submitted work to finish, prints one line
// per mirror, and returns an error when any of them failed.
func (s *stack) drainAndReport(ids []identifier.Identifier) error {
	s.pool.Shutdown()

	failed := 0
	for _, id := range ids {
		rec, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		switch rec.State {
		case models.MirrorStateFailed:
			failed++
			fmt.Fprintf(os.Stderr, "failed   %s: %s\n", id, rec.LastError)
		case models.MirrorStateRemoved:
			fmt.Printf("removed  %s\n", id)
		default:
			fmt.Printf("%-8s %s\n", rec.State, id)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d mirrors failed", failed, len(ids))
	}
	return nil
}
