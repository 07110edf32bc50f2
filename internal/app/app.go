// Package app provides the main application struct for centralized dependency
// management and lifecycle control of the pricefeed server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"pricefeed/config"
	"pricefeed/internal/history"
	"pricefeed/internal/observability"
	"pricefeed/internal/recompute"
	"pricefeed/internal/registry"
	"pricefeed/internal/server"
	"pricefeed/internal/snapshot"
	"pricefeed/internal/storage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config    *config.Config
	storage   storage.Storage
	snapCache snapshot.Cache
	scheduler *recompute.Scheduler
	server    *server.Server

	schedCancel context.CancelFunc

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &App{config: cfg}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model registry: %w", err)
	}

	st, err := storage.New(ctx, storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLitePath,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL: cfg.Storage.PostgresURL,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoURL,
			Database: cfg.Storage.MongoDatabase,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.storage = st

	store, err := history.New(st)
	if err != nil {
		closeErr := st.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize history store: %w (also: storage close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	// Snapshot persistence: Redis when configured, local file otherwise.
	var snapCache snapshot.Cache
	if cfg.Redis.URL != "" {
		snapCache, err = snapshot.NewRedisCache(snapshot.RedisConfig{
			URL: cfg.Redis.URL,
			Key: cfg.Redis.Key,
		})
		if err != nil {
			closeErr := st.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("failed to initialize redis snapshot cache: %w (also: storage close error: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to initialize redis snapshot cache: %w", err)
		}
	} else {
		snapCache = snapshot.NewLocalCache(cfg.Recompute.SnapshotPath)
	}
	app.snapCache = snapCache

	holder := snapshot.NewHolder()
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	runner := recompute.NewRunner(recompute.Config{
		FeedURL:     cfg.Ingest.FeedURL,
		FeedTimeout: cfg.Ingest.Timeout,
		Source:      cfg.Ingest.Source,
	}, reg, store, holder, snapCache, metrics)

	// Serve the last persisted snapshot until the first cycle completes.
	runner.Restore(ctx)

	app.scheduler = recompute.NewScheduler(runner, cfg.Recompute.Schedule)

	app.logStartupInfo()

	serverCfg := &server.Config{
		MasterKey:      cfg.Server.MasterKey,
		MetricsEnabled: true,
		BodySizeLimit:  cfg.Server.BodySizeLimit,
	}
	app.server = server.New(server.NewHandler(reg, holder, runner), serverCfg)

	return app, nil
}

// Start starts the recompute scheduler and the HTTP server on the given
// address. This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}

	schedCtx, cancel := context.WithCancel(context.Background())
	a.schedCancel = cancel
	if err := a.scheduler.Start(schedCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start recompute scheduler: %w", err)
	}

	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown via server.Shutdown(ctx), honoring the passed context timeout/cancellation.
// 2. Recompute scheduler stop (waits for a running cycle to finish).
// 3. Snapshot cache close (releases the Redis connection if used).
// 4. Storage close.
//
// Shutdown is idempotent and safe for repeated calls; after the first call,
// subsequent calls are no-ops. It attempts every close step, aggregates
// failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	// 1. Shutdown HTTP server first (stop accepting new requests)
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	// 2. Stop the scheduler (waits for a running recompute cycle)
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.schedCancel != nil {
		a.schedCancel()
	}

	// 3. Close the snapshot cache
	if a.snapCache != nil {
		if err := a.snapCache.Close(); err != nil {
			slog.Error("snapshot cache close error", "error", err)
			errs = append(errs, fmt.Errorf("snapshot cache close: %w", err))
		}
	}

	// 4. Close storage
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Error("storage close error", "error", err)
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	// Security warnings
	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: PRICEFEED_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set PRICEFEED_MASTER_KEY environment variable to secure this API")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	slog.Info("storage configured", "type", cfg.Storage.Type)

	if cfg.Ingest.FeedURL != "" {
		slog.Info("feed ingestion enabled", "url", cfg.Ingest.FeedURL, "timeout", cfg.Ingest.Timeout)
	} else {
		slog.Info("feed ingestion disabled, serving stored history only")
	}

	if cfg.Redis.URL != "" {
		slog.Info("snapshot persistence", "backend", "redis")
	} else {
		slog.Info("snapshot persistence", "backend", "local", "path", cfg.Recompute.SnapshotPath)
	}

	if cfg.Recompute.Schedule != "" {
		slog.Info("recompute scheduled", "cron", cfg.Recompute.Schedule)
	} else {
		slog.Info("recompute on manual trigger only")
	}
}
