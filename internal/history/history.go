// Package history persists price observations and recompute results
// (extrinsic estimates and price events) in the shared storage backend.
// Observations are append-only and immutable; estimates are replaced
// wholesale each recomputation cycle.
package history

import (
	"context"
	"fmt"

	"pricefeed/internal/core"
	"pricefeed/internal/storage"
)

// Store is the persistence interface for the pricing history and the derived
// recompute results. Implementations are safe for concurrent use.
type Store interface {
	// InsertObservations appends observations, silently skipping exact
	// duplicates (same model, price type, time, and source) so repeated
	// ingestion of the same feed is idempotent.
	InsertObservations(ctx context.Context, obs []core.PriceObservation) error

	// ListObservations returns all observations in ascending time order.
	ListObservations(ctx context.Context) ([]core.PriceObservation, error)

	// RecentObservations returns up to limit observations for a (model,
	// price type), newest first.
	RecentObservations(ctx context.Context, modelID string, pt core.PriceType, limit int) ([]core.PriceObservation, error)

	// LatestSpot returns the most recent observation for a (model, price
	// type), or nil when none exists.
	LatestSpot(ctx context.Context, modelID string, pt core.PriceType) (*core.PriceObservation, error)

	// ReplaceEstimates atomically replaces the full estimate set with the
	// results of one recomputation cycle.
	ReplaceEstimates(ctx context.Context, estimates []core.ExtrinsicEstimate) error

	// ListEstimates returns the current estimates ordered by subject.
	ListEstimates(ctx context.Context) ([]core.ExtrinsicEstimate, error)

	// InsertEvents appends detected price events.
	InsertEvents(ctx context.Context, events []core.PriceEvent) error

	// ListEvents returns up to limit events, newest first.
	ListEvents(ctx context.Context, limit int) ([]core.PriceEvent, error)
}

// New creates the history store matching the storage backend.
func New(st storage.Storage) (Store, error) {
	if st == nil {
		return nil, fmt.Errorf("storage is required")
	}
	switch st.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(st.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgresStore(st.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoStore(st.MongoDatabase())
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", st.Type())
	}
}
