package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pricefeed/internal/core"
	"pricefeed/internal/storage"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	st, err := storage.NewSQLite(storage.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	store, err := New(st)
	if err != nil {
		t.Fatalf("failed to create history store: %v", err)
	}
	return store
}

func TestSQLiteStore_ObservationsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	obs := []core.PriceObservation{
		{ModelID: "gpt-4.1", PriceType: core.PriceTypeSync, Beta: 8.0, ObservedAt: base, Source: "feed"},
		{ModelID: "gpt-4.1", PriceType: core.PriceTypeSync, Beta: 7.5, ObservedAt: base.Add(40 * 24 * time.Hour), Source: "feed"},
		{ModelID: "gpt-4.1", PriceType: core.PriceTypeBatch, Beta: 2.0, ObservedAt: base, Source: "feed"},
	}
	if err := store.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("InsertObservations failed: %v", err)
	}

	all, err := store.ListObservations(ctx)
	if err != nil {
		t.Fatalf("ListObservations failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(all))
	}
	if !all[0].ObservedAt.Equal(base) {
		t.Errorf("observations not ascending: first at %v", all[0].ObservedAt)
	}

	recent, err := store.RecentObservations(ctx, "gpt-4.1", core.PriceTypeSync, 2)
	if err != nil {
		t.Fatalf("RecentObservations failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Beta != 7.5 {
		t.Fatalf("expected newest-first sync observations, got %v", recent)
	}

	spot, err := store.LatestSpot(ctx, "gpt-4.1", core.PriceTypeSync)
	if err != nil {
		t.Fatalf("LatestSpot failed: %v", err)
	}
	if spot == nil || spot.Beta != 7.5 {
		t.Fatalf("expected latest sync spot 7.5, got %v", spot)
	}

	missing, err := store.LatestSpot(ctx, "nonexistent", core.PriceTypeSync)
	if err != nil {
		t.Fatalf("LatestSpot failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown model, got %v", missing)
	}
}

func TestSQLiteStore_DuplicateObservationsSkipped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	obs := []core.PriceObservation{
		{ModelID: "gpt-4.1", PriceType: core.PriceTypeSync, Beta: 8.0, ObservedAt: at, Source: "feed"},
	}
	for range 3 {
		if err := store.InsertObservations(ctx, obs); err != nil {
			t.Fatalf("re-insert failed: %v", err)
		}
	}

	all, err := store.ListObservations(ctx)
	if err != nil {
		t.Fatalf("ListObservations failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 observation after duplicate inserts, got %d", len(all))
	}
}

func TestSQLiteStore_ReplaceEstimates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := []core.ExtrinsicEstimate{
		{ID: "e1", Subject: "openai", Theta: 0.08, Sigma: 0.04, NObservations: 5, ComputedAt: now},
		{ID: "e2", Subject: "claude", Theta: 0.031, Sigma: 0.02, Defaulted: true, ComputedAt: now},
	}
	if err := store.ReplaceEstimates(ctx, first); err != nil {
		t.Fatalf("ReplaceEstimates failed: %v", err)
	}

	second := []core.ExtrinsicEstimate{
		{ID: "e3", Subject: "openai", Theta: 0.09, Sigma: 0.05, NObservations: 6, ComputedAt: now.Add(time.Hour)},
	}
	if err := store.ReplaceEstimates(ctx, second); err != nil {
		t.Fatalf("second ReplaceEstimates failed: %v", err)
	}

	got, err := store.ListEstimates(ctx)
	if err != nil {
		t.Fatalf("ListEstimates failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected full replacement to leave 1 estimate, got %d", len(got))
	}
	if got[0].ID != "e3" || got[0].Theta != 0.09 {
		t.Fatalf("wrong surviving estimate: %+v", got[0])
	}
}

func TestSQLiteStore_EventsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	events := []core.PriceEvent{
		{ID: "ev1", ModelID: "gpt-4.1", PriceType: core.PriceTypeSync, BetaBefore: 10, BetaAfter: 8, PctChange: -0.2, DetectedAt: base},
		{ID: "ev2", ModelID: "gpt-4.1", PriceType: core.PriceTypeSync, BetaBefore: 8, BetaAfter: 7, PctChange: -0.125, DetectedAt: base.Add(24 * time.Hour)},
	}
	if err := store.InsertEvents(ctx, events); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	got, err := store.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "ev2" {
		t.Fatalf("expected newest-first events, got %v", got)
	}

	limited, err := store.ListEvents(ctx, 1)
	if err != nil {
		t.Fatalf("ListEvents with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "ev2" {
		t.Fatalf("limit not honored: %v", limited)
	}
}

func TestSQLiteStore_DuplicateEventsSkipped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	// Re-detection of the same price change carries a fresh ID but the same
	// (model, price type, detected_at); only the first insert may land.
	for _, id := range []string{"ev-a", "ev-b", "ev-c"} {
		events := []core.PriceEvent{
			{ID: id, ModelID: "gpt-4.1", PriceType: core.PriceTypeSync, BetaBefore: 8, BetaAfter: 7.5, PctChange: -0.0625, DetectedAt: at},
		}
		if err := store.InsertEvents(ctx, events); err != nil {
			t.Fatalf("re-insert failed: %v", err)
		}
	}

	got, err := store.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event after duplicate inserts, got %d", len(got))
	}
	if got[0].ID != "ev-a" {
		t.Fatalf("expected the first insert to win, got %+v", got[0])
	}
}
