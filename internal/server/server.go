// Package server provides the main server initialization and run logic.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/repligit/repligit/internal/api"
	"github.com/repligit/repligit/internal/api/handlers"
	"github.com/repligit/repligit/internal/config"
	"github.com/repligit/repligit/internal/db"
	"github.com/repligit/repligit/internal/github"
	"github.com/repligit/repligit/internal/logger"
	"github.com/repligit/repligit/internal/mirror"
	"github.com/repligit/repligit/internal/registry"
	"github.com/repligit/repligit/internal/resolver"
	"github.com/repligit/repligit/internal/scheduler"
	"github.com/repligit/repligit/internal/worker"
)

// Config holds the server configuration options.
type Config struct {
	ConfigPath string // Path to the config file ("" = search default locations)
	Port       int    // Port to run the server on (0 = use config default)
	Mode       string // "development" or "production" ("" = use config default)
	Version    string // Version string to report
}

// Run starts the mirror service and blocks until the context is canceled:
// webhook intake, the reconciliation scheduler, and the worker pool all run
// until then. Shutdown stops intake first, then drains in-flight syncs.
func Run(ctx context.Context, cfg Config) error {
	// Set version in handlers
	if cfg.Version != "" {
		handlers.Version = cfg.Version
	}

	// Load configuration
	appCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override port and mode from CLI flags if provided
	if cfg.Port != 0 {
		appCfg.Server.Port = cfg.Port
	}
	if cfg.Mode != "" {
		appCfg.Server.Mode = cfg.Mode
	}

	// Initialize logger
	logger.Init(appCfg.Log.Format, appCfg.Log.Level)
	slog.Info("Starting repligit server", "version", cfg.Version, "mode", appCfg.Server.Mode)

	// Initialize database
	database, err := db.New(appCfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("Database initialized", "driver", appCfg.Database.Driver)

	// Run migrations
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Load persisted mirror records
	reg := registry.New(database, slog.Default())
	if err := reg.Load(); err != nil {
		return fmt.Errorf("failed to load mirror records: %w", err)
	}

	// Initialize the on-disk mirror store
	store, err := mirror.NewStore(mirror.Options{
		Root:     appCfg.Mirror.Root,
		CloneURL: appCfg.Mirror.CloneURL,
		User:     appCfg.GitHub.User,
		Token:    appCfg.GitHub.Token,
		Timeout:  appCfg.Sync.Timeout,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mirror store: %w", err)
	}
	slog.Info("Mirror store initialized", "root", store.Root())

	// Resolve the configured selection through the GitHub API
	patterns, err := appCfg.Patterns()
	if err != nil {
		return fmt.Errorf("invalid mirror selection: %w", err)
	}
	client := github.NewClient(github.Options{
		BaseURL: appCfg.GitHub.APIURL,
		Token:   appCfg.GitHub.Token,
		Logger:  slog.Default(),
	})
	source := resolver.New(client, patterns, slog.Default())

	// Worker pool and reconciliation scheduler
	pool := worker.NewPool(reg, store, worker.Options{
		Workers:        appCfg.Sync.Workers,
		QueueSize:      appCfg.Sync.QueueSize,
		EnqueueTimeout: appCfg.Sync.EnqueueTimeout,
		Logger:         slog.Default(),
	})
	sched := scheduler.New(source, pool, appCfg.Sync.Interval, slog.Default())

	// HTTP server for webhook intake and the read API
	router := api.NewRouter(appCfg, reg, pool)
	addr := fmt.Sprintf(":%d", appCfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := pool.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := sched.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("Server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Stop accepting webhooks as soon as shutdown begins; the pool
		// drains after intake is closed.
		<-runCtx.Done()
		slog.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("repligit exited")
	return nil
}

// RunWithSignalHandling starts the server and handles OS signals for graceful shutdown.
func RunWithSignalHandling(cfg Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg)
	}()

	// Wait for signal or error
	select {
	case sig := <-quit:
		slog.Info("Received signal", "signal", sig)
		cancel()
		// Wait for server to finish
		return <-errCh
	case err := <-errCh:
		return err
	}
}
