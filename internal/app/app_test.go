package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pricefeed/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{
			Port:          "0",
			BodySizeLimit: "1M",
		},
		Storage: config.StorageConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(dir, "pricefeed.db"),
		},
		Ingest: config.IngestConfig{
			Timeout: 5 * time.Second,
		},
		Recompute: config.RecomputeConfig{
			SnapshotPath: filepath.Join(dir, "snapshot.json"),
		},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
}

func TestNewAndShutdown(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	// Shutdown is idempotent.
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("repeated shutdown should be a no-op: %v", err)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
