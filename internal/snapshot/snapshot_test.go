package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pricefeed/internal/core"
)

func sampleSnapshot() *Snapshot {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Snapshot{
		Version:    1,
		ComputedAt: at,
		Models: map[string]*ModelPricing{
			"gpt-4.1": {
				ModelID:  "gpt-4.1",
				FamilyID: "openai",
				SpotSync: &core.PriceObservation{
					ModelID:    "gpt-4.1",
					PriceType:  core.PriceTypeSync,
					Beta:       8.0,
					ObservedAt: at,
					Source:     "feed",
				},
				Theta: 0.08,
				Sigma: 0.04,
				ForwardCurve: []core.ForwardPoint{
					{ModelID: "gpt-4.1", PriceType: core.PriceTypeSync, TenorMonths: 1, BetaSpot: 8.0, ThetaUsed: 0.08, BetaForward: 7.38},
				},
			},
		},
	}
}

func TestHolder(t *testing.T) {
	t.Run("EmptyUntilFirstSwap", func(t *testing.T) {
		h := NewHolder()
		if h.Current() != nil {
			t.Fatal("expected nil before first swap")
		}
	})

	t.Run("SwapPublishes", func(t *testing.T) {
		h := NewHolder()
		s := sampleSnapshot()
		h.Swap(s)
		if got := h.Current(); got != s {
			t.Fatalf("expected published snapshot, got %v", got)
		}
		if got := h.Current().Model("gpt-4.1"); got == nil || got.Theta != 0.08 {
			t.Fatalf("model lookup failed: %v", got)
		}
	})

	t.Run("OldSnapshotStaysValid", func(t *testing.T) {
		h := NewHolder()
		first := sampleSnapshot()
		h.Swap(first)
		held := h.Current()

		second := sampleSnapshot()
		second.Version = 2
		h.Swap(second)

		if held.Version != 1 {
			t.Errorf("reader's snapshot mutated: version %d", held.Version)
		}
		if h.Current().Version != 2 {
			t.Errorf("expected version 2 current, got %d", h.Current().Version)
		}
	})

	t.Run("ConcurrentReadersAndWriters", func(t *testing.T) {
		h := NewHolder()
		h.Swap(sampleSnapshot())

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(2)
			go func() {
				defer wg.Done()
				for i := range 100 {
					s := sampleSnapshot()
					s.Version = i
					h.Swap(s)
				}
			}()
			go func() {
				defer wg.Done()
				for range 100 {
					if s := h.Current(); s != nil && s.Models == nil {
						t.Error("observed torn snapshot")
						return
					}
				}
			}()
		}
		wg.Wait()
	})
}

func TestModelLookup(t *testing.T) {
	var s *Snapshot
	if s.Model("gpt-4.1") != nil {
		t.Fatal("nil snapshot should resolve no models")
	}

	s = sampleSnapshot()
	if s.Model("unknown") != nil {
		t.Fatal("unknown model should resolve nil")
	}
}

func TestLocalCache(t *testing.T) {
	t.Run("GetSetRoundTrip", func(t *testing.T) {
		tmpDir := t.TempDir()
		file := filepath.Join(tmpDir, "snapshot.json")

		cache := NewLocalCache(file)
		ctx := context.Background()

		// Initially empty
		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatalf("expected nil result for empty cache, got %v", result)
		}

		if err := cache.Set(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}

		result, err = cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error on get: %v", err)
		}
		if result == nil {
			t.Fatal("expected result, got nil")
		}
		if result.Version != 1 {
			t.Errorf("expected version 1, got %d", result.Version)
		}
		mp := result.Model("gpt-4.1")
		if mp == nil {
			t.Fatal("expected gpt-4.1 in restored snapshot")
		}
		if mp.SpotSync == nil || mp.SpotSync.Beta != 8.0 {
			t.Errorf("spot price not restored: %v", mp.SpotSync)
		}
		if len(mp.ForwardCurve) != 1 {
			t.Errorf("forward curve not restored: %v", mp.ForwardCurve)
		}
	})

	t.Run("CreateDirectoryIfNeeded", func(t *testing.T) {
		tmpDir := t.TempDir()
		file := filepath.Join(tmpDir, "nested", "dir", "snapshot.json")

		cache := NewLocalCache(file)
		if err := cache.Set(context.Background(), sampleSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(file); os.IsNotExist(err) {
			t.Fatal("snapshot file was not created")
		}
	})

	t.Run("EmptyFilePath", func(t *testing.T) {
		cache := NewLocalCache("")
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatal("expected nil result for empty path")
		}

		if err := cache.Set(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		file := filepath.Join(tmpDir, "snapshot.json")

		if err := os.WriteFile(file, []byte("not valid json"), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		cache := NewLocalCache(file)
		if _, err := cache.Get(context.Background()); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("CloseIsNoOp", func(t *testing.T) {
		cache := NewLocalCache("/tmp/snapshot.json")
		if err := cache.Close(); err != nil {
			t.Fatalf("unexpected error on close: %v", err)
		}
	})
}
