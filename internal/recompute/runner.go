// Package recompute orchestrates the analytics pipeline: ingest new price
// observations, re-estimate extrinsic parameters per family, detect price
// events, regenerate forward curves, and publish a fresh pricing snapshot.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricefeed/internal/core"
	"pricefeed/internal/events"
	"pricefeed/internal/extrinsic"
	"pricefeed/internal/history"
	"pricefeed/internal/ingest"
	"pricefeed/internal/lineage"
	"pricefeed/internal/observability"
	"pricefeed/internal/pricing"
	"pricefeed/internal/registry"
	"pricefeed/internal/snapshot"
)

// Config holds the runner's ingest settings.
type Config struct {
	// FeedURL is the upstream price feed endpoint. Empty disables ingestion;
	// recompute then works from stored history only.
	FeedURL string

	// FeedTimeout bounds one feed fetch.
	FeedTimeout time.Duration

	// Source tags observations produced by this feed.
	Source string
}

// Runner executes recomputation cycles. Cycles are serialized: a manual
// trigger that arrives while a scheduled cycle runs waits for it.
type Runner struct {
	cfg      Config
	registry *registry.Registry
	resolver *lineage.Resolver
	store    history.Store
	holder   *snapshot.Holder
	cache    snapshot.Cache
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	version int

	// now is swappable for tests.
	now func() time.Time
}

// NewRunner creates a recompute runner. The snapshot cache may be nil for
// deployments without persistence across restarts.
func NewRunner(cfg Config, reg *registry.Registry, store history.Store, holder *snapshot.Holder, cache snapshot.Cache, metrics *observability.Metrics) *Runner {
	return &Runner{
		cfg:      cfg,
		registry: reg,
		resolver: lineage.NewResolver(reg.Lineage()),
		store:    store,
		holder:   holder,
		cache:    cache,
		metrics:  metrics,
		logger:   slog.Default().With("component", "recompute"),
		now:      time.Now,
	}
}

// Restore loads the last persisted snapshot into the holder so the server
// can answer queries before the first cycle completes. Missing or
// unreadable snapshots are not fatal.
func (r *Runner) Restore(ctx context.Context) {
	if r.cache == nil {
		return
	}
	s, err := r.cache.Get(ctx)
	if err != nil {
		r.logger.Warn("failed to restore persisted snapshot", "error", err)
		return
	}
	if s == nil {
		return
	}
	r.holder.Swap(s)
	r.version = s.Version
	r.logger.Info("restored persisted snapshot",
		"version", s.Version,
		"computed_at", s.ComputedAt,
		"models", len(s.Models),
	)
}

// Run executes one full recomputation cycle. Failures on individual
// families or models are isolated and collected; the cycle publishes
// whatever it could compute and returns the joined errors.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.now()
	err := r.run(ctx, start)
	r.metrics.RecordRecompute(err, r.now().Sub(start))
	return err
}

func (r *Runner) run(ctx context.Context, now time.Time) error {
	var errs []error

	if err := r.ingestFeed(ctx, now); err != nil {
		// A dead feed must not stop estimation from stored history.
		r.metrics.RecordIngestFailure()
		r.logger.Warn("feed ingestion failed, continuing with stored history", "error", err)
		errs = append(errs, fmt.Errorf("ingest: %w", err))
	}

	allObs, err := r.store.ListObservations(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("load observations: %w", err))
		return errors.Join(errs...)
	}

	estimates := r.estimateFamilies(allObs, now)

	detected, eventErrs := r.detectEvents(ctx)
	errs = append(errs, eventErrs...)

	if err := r.store.ReplaceEstimates(ctx, estimates); err != nil {
		errs = append(errs, fmt.Errorf("persist estimates: %w", err))
	}
	if len(detected) > 0 {
		if err := r.store.InsertEvents(ctx, detected); err != nil {
			errs = append(errs, fmt.Errorf("persist events: %w", err))
		}
	}

	snap, assembleErrs := r.assemble(ctx, estimates, now)
	errs = append(errs, assembleErrs...)

	r.holder.Swap(snap)
	r.metrics.UpdateSnapshotAge(snap.ComputedAt, r.now())
	if r.cache != nil {
		if err := r.cache.Set(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("persist snapshot: %w", err))
		}
	}

	r.logger.Info("recompute cycle completed",
		"version", snap.Version,
		"models", len(snap.Models),
		"estimates", len(estimates),
		"events", len(detected),
		"errors", len(errs),
	)

	return errors.Join(errs...)
}

func (r *Runner) ingestFeed(ctx context.Context, now time.Time) error {
	if r.cfg.FeedURL == "" {
		return nil
	}

	obs, err := ingest.Fetch(ctx, r.cfg.FeedURL, r.cfg.FeedTimeout, now)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return nil
	}

	if r.cfg.Source != "" {
		for i := range obs {
			obs[i].Source = r.cfg.Source
		}
	}

	if err := r.store.InsertObservations(ctx, obs); err != nil {
		return fmt.Errorf("store observations: %w", err)
	}
	r.metrics.RecordObservationsStored(len(obs))
	return nil
}

// estimateFamilies runs the extrinsic estimator for every registered family
// concurrently. Estimation is pure and never fails, so the fan-out needs no
// error channel.
func (r *Runner) estimateFamilies(allObs []core.PriceObservation, now time.Time) []core.ExtrinsicEstimate {
	families := r.registry.Families()
	defaults := r.registry.Defaults()

	estimates := make([]core.ExtrinsicEstimate, len(families))

	var wg sync.WaitGroup
	for i, familyID := range families {
		wg.Add(1)
		go func() {
			defer wg.Done()
			filtered := r.resolver.FilterObservations(familyID, allObs)
			est := extrinsic.Estimate(familyID, filtered, defaults, now)
			est.ID = uuid.NewString()
			estimates[i] = est
		}()
	}
	wg.Wait()

	for _, est := range estimates {
		r.metrics.RecordEstimate(est.Subject, est.Theta, est.Sigma, est.Defaulted)
		if est.Defaulted {
			r.logger.Debug("extrinsic estimation fell back to family defaults",
				"family", est.Subject,
				"observations", est.NObservations,
			)
		}
	}
	return estimates
}

// detectEvents compares the two newest observations per (model, price type)
// and returns the changes found this cycle. Detection is stateless, so a
// change keeps being re-detected until a newer observation arrives; changes
// already persisted are filtered out here so each price move is emitted once.
func (r *Runner) detectEvents(ctx context.Context) ([]core.PriceEvent, []error) {
	var (
		detected []core.PriceEvent
		errs     []error
	)

	known := make(map[string]struct{})
	prior, err := r.store.ListEvents(ctx, 100)
	if err != nil {
		errs = append(errs, fmt.Errorf("load prior events: %w", err))
	}
	for _, ev := range prior {
		known[eventKey(ev.ModelID, ev.PriceType, ev.DetectedAt)] = struct{}{}
	}

	for _, m := range r.registry.Models() {
		for _, pt := range []core.PriceType{core.PriceTypeSync, core.PriceTypeBatch} {
			recent, err := r.store.RecentObservations(ctx, m.ModelID, pt, 2)
			if err != nil {
				errs = append(errs, fmt.Errorf("recent observations for %s/%s: %w", m.ModelID, pt, err))
				continue
			}
			ev := events.Detect(m.ModelID, pt, recent)
			if ev == nil {
				continue
			}
			if _, ok := known[eventKey(ev.ModelID, ev.PriceType, ev.DetectedAt)]; ok {
				continue
			}
			ev.ID = uuid.NewString()
			detected = append(detected, *ev)
			r.metrics.RecordEvent(ev.ModelID, ev.PctChange)
			r.logger.Info("price change detected",
				"model", ev.ModelID,
				"price_type", ev.PriceType,
				"before", ev.BetaBefore,
				"after", ev.BetaAfter,
				"pct_change", ev.PctChange,
			)
		}
	}
	return detected, errs
}

// eventKey is the natural identity of a price event; the stores enforce the
// same key with a unique constraint.
func eventKey(modelID string, pt core.PriceType, detectedAt time.Time) string {
	return modelID + "|" + string(pt) + "|" + detectedAt.UTC().Format(time.RFC3339Nano)
}

// assemble builds the snapshot from the latest spots, this cycle's
// estimates, and the event history. Models without a spot price appear with
// extrinsic parameters only; models without either a spot or a theta get no
// forward curve.
func (r *Runner) assemble(ctx context.Context, estimates []core.ExtrinsicEstimate, now time.Time) (*snapshot.Snapshot, []error) {
	var errs []error

	byFamily := make(map[string]core.ExtrinsicEstimate, len(estimates))
	for _, est := range estimates {
		byFamily[est.Subject] = est
	}

	r.version++
	snap := &snapshot.Snapshot{
		Version:    r.version,
		ComputedAt: now,
		Models:     make(map[string]*snapshot.ModelPricing),
		Estimates:  estimates,
	}

	recentEvents, err := r.store.ListEvents(ctx, 100)
	if err != nil {
		errs = append(errs, fmt.Errorf("load events: %w", err))
	} else {
		snap.Events = recentEvents
	}

	lastEvent := make(map[string]*core.PriceEvent)
	for i := range snap.Events {
		ev := &snap.Events[i]
		if _, ok := lastEvent[ev.ModelID]; !ok { // events are newest first
			lastEvent[ev.ModelID] = ev
		}
	}

	for _, m := range r.registry.Models() {
		mp := &snapshot.ModelPricing{
			ModelID:   m.ModelID,
			FamilyID:  m.FamilyID,
			LastEvent: lastEvent[m.ModelID],
		}

		if est, ok := byFamily[m.FamilyID]; ok {
			mp.Theta = est.Theta
			mp.Sigma = est.Sigma
			mp.Defaulted = est.Defaulted
		}

		spotSync, err := r.store.LatestSpot(ctx, m.ModelID, core.PriceTypeSync)
		if err != nil {
			errs = append(errs, fmt.Errorf("latest sync spot for %s: %w", m.ModelID, err))
		} else {
			mp.SpotSync = spotSync
		}

		spotBatch, err := r.store.LatestSpot(ctx, m.ModelID, core.PriceTypeBatch)
		if err != nil {
			errs = append(errs, fmt.Errorf("latest batch spot for %s: %w", m.ModelID, err))
		} else {
			mp.SpotBatch = spotBatch
		}

		if mp.SpotSync != nil && mp.Theta > 0 {
			mp.ForwardCurve = pricing.GenerateForwardCurve(m.ModelID, core.PriceTypeSync, mp.SpotSync.Beta, mp.Theta, now)
		}

		snap.Models[m.ModelID] = mp
	}

	return snap, errs
}
