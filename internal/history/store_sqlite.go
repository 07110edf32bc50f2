package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pricefeed/internal/core"
)

// SQLite has a default limit of 999 bindable parameters per statement.
// Observations bind 5 columns each, so batches stay well under it.
const (
	maxSQLiteParams       = 999
	columnsPerObservation = 5
	maxObsPerBatch        = maxSQLiteParams / columnsPerObservation
)

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the history tables if needed and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			model_id TEXT NOT NULL,
			price_type TEXT NOT NULL,
			beta REAL NOT NULL,
			observed_at DATETIME NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (model_id, price_type, observed_at, source)
		)`,
		`CREATE TABLE IF NOT EXISTS estimates (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			theta REAL NOT NULL,
			sigma REAL NOT NULL,
			window_start DATETIME,
			window_end DATETIME,
			n_observations INTEGER NOT NULL DEFAULT 0,
			defaulted INTEGER NOT NULL DEFAULT 0,
			computed_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			price_type TEXT NOT NULL,
			beta_before REAL NOT NULL,
			beta_after REAL NOT NULL,
			pct_change REAL NOT NULL,
			detected_at DATETIME NOT NULL,
			UNIQUE (model_id, price_type, detected_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_model ON observations(model_id, price_type, observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_detected_at ON events(detected_at)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create history schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertObservations(ctx context.Context, obs []core.PriceObservation) error {
	for start := 0; start < len(obs); start += maxObsPerBatch {
		end := min(start+maxObsPerBatch, len(obs))
		if err := s.insertObservationBatch(ctx, obs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) insertObservationBatch(ctx context.Context, obs []core.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin observation insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (model_id, price_type, beta, observed_at, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.ModelID, string(o.PriceType), o.Beta, o.ObservedAt.UTC(), o.Source); err != nil {
			return fmt.Errorf("insert observation for %s: %w", o.ModelID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListObservations(ctx context.Context) ([]core.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_id, price_type, beta, observed_at, source
		FROM observations
		ORDER BY observed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func (s *SQLiteStore) RecentObservations(ctx context.Context, modelID string, pt core.PriceType, limit int) ([]core.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_id, price_type, beta, observed_at, source
		FROM observations
		WHERE model_id = ? AND price_type = ?
		ORDER BY observed_at DESC
		LIMIT ?
	`, modelID, string(pt), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func (s *SQLiteStore) LatestSpot(ctx context.Context, modelID string, pt core.PriceType) (*core.PriceObservation, error) {
	recent, err := s.RecentObservations(ctx, modelID, pt, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}

func (s *SQLiteStore) ReplaceEstimates(ctx context.Context, estimates []core.ExtrinsicEstimate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin estimate replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM estimates`); err != nil {
		return fmt.Errorf("clear estimates: %w", err)
	}

	for _, e := range estimates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO estimates (id, subject, theta, sigma, window_start, window_end, n_observations, defaulted, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.Subject, e.Theta, e.Sigma, e.WindowStart.UTC(), e.WindowEnd.UTC(), e.NObservations, boolToInt(e.Defaulted), e.ComputedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert estimate for %s: %w", e.Subject, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListEstimates(ctx context.Context) ([]core.ExtrinsicEstimate, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var defaulted int
		var windowStart, windowEnd, computedAt time.Time
		if err := rows.Scan(&e.ID, &e.Subject, &e.Theta, &e.Sigma, &windowStart, &windowEnd, &e.NObservations, &defaulted, &computedAt); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		e.WindowStart = windowStart.UTC()
		e.WindowEnd = windowEnd.UTC()
		e.ComputedAt = computedAt.UTC()
		e.Defaulted = defaulted != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertEvents(ctx context.Context, events []core.PriceEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, ev := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, model_id, price_type, beta_before, beta_after, pct_change, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, ev.ID, ev.ModelID, string(ev.PriceType), ev.BetaBefore, ev.BetaAfter, ev.PctChange, ev.DetectedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert event for %s: %w", ev.ModelID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, limit int) ([]core.PriceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_id, price_type, beta_before, beta_after, pct_change, detected_at
		FROM events
		ORDER BY detected_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.PriceEvent
	for rows.Next() {
		var ev core.PriceEvent
		var pt string
		var detectedAt time.Time
		if err := rows.Scan(&ev.ID, &ev.ModelID, &pt, &ev.BetaBefore, &ev.BetaAfter, &ev.PctChange, &detectedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.PriceType = core.PriceType(pt)
		ev.DetectedAt = detectedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanObservations(rows *sql.Rows) ([]core.PriceObservation, error) {
	var out []core.PriceObservation
	for rows.Next() {
		var o core.PriceObservation
		var pt string
		var observedAt time.Time
		if err := rows.Scan(&o.ModelID, &pt, &o.Beta, &observedAt, &o.Source); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.PriceType = core.PriceType(pt)
		o.ObservedAt = observedAt.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
