package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricefeed/internal/core"
)

// PostgresStore implements Store for PostgreSQL databases.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the history tables if needed and returns the store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	schema := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			model_id TEXT NOT NULL,
			price_type TEXT NOT NULL,
			beta DOUBLE PRECISION NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (model_id, price_type, observed_at, source)
		)`,
		`CREATE TABLE IF NOT EXISTS estimates (
			id UUID PRIMARY KEY,
			subject TEXT NOT NULL,
			theta DOUBLE PRECISION NOT NULL,
			sigma DOUBLE PRECISION NOT NULL,
			window_start TIMESTAMPTZ,
			window_end TIMESTAMPTZ,
			n_observations INTEGER NOT NULL DEFAULT 0,
			defaulted BOOLEAN NOT NULL DEFAULT FALSE,
			computed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			model_id TEXT NOT NULL,
			price_type TEXT NOT NULL,
			beta_before DOUBLE PRECISION NOT NULL,
			beta_after DOUBLE PRECISION NOT NULL,
			pct_change DOUBLE PRECISION NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			UNIQUE (model_id, price_type, detected_at)
		)`,
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create history schema: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_observations_model ON observations(model_id, price_type, observed_at)",
		"CREATE INDEX IF NOT EXISTS idx_events_detected_at ON events(detected_at)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) InsertObservations(ctx context.Context, obs []core.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(`
			INSERT INTO observations (model_id, price_type, beta, observed_at, source)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING
		`, o.ModelID, string(o.PriceType), o.Beta, o.ObservedAt.UTC(), o.Source)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range obs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert observations: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListObservations(ctx context.Context) ([]core.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model_id, price_type, beta, observed_at, source
		FROM observations
		ORDER BY observed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	return scanPgxObservations(rows)
}

func (s *PostgresStore) RecentObservations(ctx context.Context, modelID string, pt core.PriceType, limit int) ([]core.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model_id, price_type, beta, observed_at, source
		FROM observations
		WHERE model_id = $1 AND price_type = $2
		ORDER BY observed_at DESC
		LIMIT $3
	`, modelID, string(pt), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent observations: %w", err)
	}
	defer rows.Close()
	return scanPgxObservations(rows)
}

func (s *PostgresStore) LatestSpot(ctx context.Context, modelID string, pt core.PriceType) (*core.PriceObservation, error) {
	recent, err := s.RecentObservations(ctx, modelID, pt, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}

func (s *PostgresStore) ReplaceEstimates(ctx context.Context, estimates []core.ExtrinsicEstimate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin estimate replace: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM estimates`); err != nil {
		return fmt.Errorf("clear estimates: %w", err)
	}

	for _, e := range estimates {
		_, err := tx.Exec(ctx, `
			INSERT INTO estimates (id, subject, theta, sigma, window_start, window_end, n_observations, defaulted, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, e.ID, e.Subject, e.Theta, e.Sigma, e.WindowStart.UTC(), e.WindowEnd.UTC(), e.NObservations, e.Defaulted, e.ComputedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert estimate for %s: %w", e.Subject, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListEstimates(ctx context.Context) ([]core.ExtrinsicEstimate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject, theta, sigma, window_start, window_end, n_observations, defaulted, computed_at
		FROM estimates
		ORDER BY subject ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []core.ExtrinsicEstimate
	for rows.Next() {
		var e core.ExtrinsicEstimate
		if err := rows.Scan(&e.ID, &e.Subject, &e.Theta, &e.Sigma, &e.WindowStart, &e.WindowEnd, &e.NObservations, &e.Defaulted, &e.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertEvents(ctx context.Context, events []core.PriceEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO events (id, model_id, price_type, beta_before, beta_after, pct_change, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT DO NOTHING
		`, ev.ID, ev.ModelID, string(ev.PriceType), ev.BetaBefore, ev.BetaAfter, ev.PctChange, ev.DetectedAt.UTC())
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, limit int) ([]core.PriceEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, model_id, price_type, beta_before, beta_after, pct_change, detected_at
		FROM events
		ORDER BY detected_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.PriceEvent
	for rows.Next() {
		var ev core.PriceEvent
		var pt string
		if err := rows.Scan(&ev.ID, &ev.ModelID, &pt, &ev.BetaBefore, &ev.BetaAfter, &ev.PctChange, &ev.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.PriceType = core.PriceType(pt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanPgxObservations(rows pgx.Rows) ([]core.PriceObservation, error) {
	var out []core.PriceObservation
	for rows.Next() {
		var o core.PriceObservation
		var pt string
		if err := rows.Scan(&o.ModelID, &pt, &o.Beta, &o.ObservedAt, &o.Source); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.PriceType = core.PriceType(pt)
		out = append(out, o)
	}
	return out, rows.Err()
}
