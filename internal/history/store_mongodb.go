package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pricefeed/internal/core"
)

// MongoStore implements Store for MongoDB.
type MongoStore struct {
	observations *mongo.Collection
	estimates    *mongo.Collection
	events       *mongo.Collection
}

type mongoObservation struct {
	ModelID    string    `bson:"model_id"`
	PriceType  string    `bson:"price_type"`
	Beta       float64   `bson:"beta"`
	ObservedAt time.Time `bson:"observed_at"`
	Source     string    `bson:"source"`
}

type mongoEstimate struct {
	ID            string    `bson:"_id"`
	Subject       string    `bson:"subject"`
	Theta         float64   `bson:"theta"`
	Sigma         float64   `bson:"sigma"`
	WindowStart   time.Time `bson:"window_start"`
	WindowEnd     time.Time `bson:"window_end"`
	NObservations int       `bson:"n_observations"`
	Defaulted     bool      `bson:"defaulted"`
	ComputedAt    time.Time `bson:"computed_at"`
}

type mongoEvent struct {
	ID         string    `bson:"_id"`
	ModelID    string    `bson:"model_id"`
	PriceType  string    `bson:"price_type"`
	BetaBefore float64   `bson:"beta_before"`
	BetaAfter  float64   `bson:"beta_after"`
	PctChange  float64   `bson:"pct_change"`
	DetectedAt time.Time `bson:"detected_at"`
}

// NewMongoStore creates the history collections and indexes if needed.
func NewMongoStore(database *mongo.Database) (*MongoStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	store := &MongoStore{
		observations: database.Collection("observations"),
		estimates:    database.Collection("estimates"),
		events:       database.Collection("events"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The unique compound index gives the same duplicate-skipping semantics
	// as the relational primary key.
	_, err := store.observations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "model_id", Value: 1},
			{Key: "price_type", Value: 1},
			{Key: "observed_at", Value: 1},
			{Key: "source", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create observation index: %w", err)
	}

	_, err = store.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "model_id", Value: 1},
			{Key: "price_type", Value: 1},
			{Key: "detected_at", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event index: %w", err)
	}

	if _, err := store.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "detected_at", Value: -1}},
	}); err != nil {
		slog.Warn("failed to create event sort index", "error", err)
	}

	return store, nil
}

func (s *MongoStore) InsertObservations(ctx context.Context, obs []core.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}

	docs := make([]any, 0, len(obs))
	for _, o := range obs {
		docs = append(docs, mongoObservation{
			ModelID:    o.ModelID,
			PriceType:  string(o.PriceType),
			Beta:       o.Beta,
			ObservedAt: o.ObservedAt.UTC(),
			Source:     o.Source,
		})
	}

	_, err := s.observations.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		// Duplicate-key failures are the idempotent re-ingest case.
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && onlyDuplicateKeys(bwe) {
			return nil
		}
		return fmt.Errorf("insert observations: %w", err)
	}
	return nil
}

func onlyDuplicateKeys(bwe mongo.BulkWriteException) bool {
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return len(bwe.WriteErrors) > 0
}

func (s *MongoStore) ListObservations(ctx context.Context) ([]core.PriceObservation, error) {
	cursor, err := s.observations.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "observed_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	return decodeObservations(ctx, cursor)
}

func (s *MongoStore) RecentObservations(ctx context.Context, modelID string, pt core.PriceType, limit int) ([]core.PriceObservation, error) {
	filter := bson.D{
		{Key: "model_id", Value: modelID},
		{Key: "price_type", Value: string(pt)},
	}
	cursor, err := s.observations.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "observed_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("query recent observations: %w", err)
	}
	return decodeObservations(ctx, cursor)
}

func (s *MongoStore) LatestSpot(ctx context.Context, modelID string, pt core.PriceType) (*core.PriceObservation, error) {
	recent, err := s.RecentObservations(ctx, modelID, pt, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}

func (s *MongoStore) ReplaceEstimates(ctx context.Context, estimates []core.ExtrinsicEstimate) error {
	// Mongo offers no cheap multi-document transaction on standalone
	// deployments; delete-then-insert is acceptable because readers go
	// through the snapshot, not this collection.
	if _, err := s.estimates.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("clear estimates: %w", err)
	}
	if len(estimates) == 0 {
		return nil
	}

	docs := make([]any, 0, len(estimates))
	for _, e := range estimates {
		docs = append(docs, mongoEstimate{
			ID:            e.ID,
			Subject:       e.Subject,
			Theta:         e.Theta,
			Sigma:         e.Sigma,
			WindowStart:   e.WindowStart.UTC(),
			WindowEnd:     e.WindowEnd.UTC(),
			NObservations: e.NObservations,
			Defaulted:     e.Defaulted,
			ComputedAt:    e.ComputedAt.UTC(),
		})
	}
	if _, err := s.estimates.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert estimates: %w", err)
	}
	return nil
}

func (s *MongoStore) ListEstimates(ctx context.Context) ([]core.ExtrinsicEstimate, error) {
	cursor, err := s.estimates.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "subject", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer cursor.Close(ctx)

	var out []core.ExtrinsicEstimate
	for cursor.Next(ctx) {
		var doc mongoEstimate
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode estimate: %w", err)
		}
		out = append(out, core.ExtrinsicEstimate{
			ID:            doc.ID,
			Subject:       doc.Subject,
			Theta:         doc.Theta,
			Sigma:         doc.Sigma,
			WindowStart:   doc.WindowStart,
			WindowEnd:     doc.WindowEnd,
			NObservations: doc.NObservations,
			Defaulted:     doc.Defaulted,
			ComputedAt:    doc.ComputedAt,
		})
	}
	return out, cursor.Err()
}

func (s *MongoStore) InsertEvents(ctx context.Context, events []core.PriceEvent) error {
	if len(events) == 0 {
		return nil
	}

	docs := make([]any, 0, len(events))
	for _, ev := range events {
		docs = append(docs, mongoEvent{
			ID:         ev.ID,
			ModelID:    ev.ModelID,
			PriceType:  string(ev.PriceType),
			BetaBefore: ev.BetaBefore,
			BetaAfter:  ev.BetaAfter,
			PctChange:  ev.PctChange,
			DetectedAt: ev.DetectedAt.UTC(),
		})
	}
	_, err := s.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		// A change that was already persisted may be re-detected and
		// re-inserted; the unique index makes that a no-op.
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && onlyDuplicateKeys(bwe) {
			return nil
		}
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

func (s *MongoStore) ListEvents(ctx context.Context, limit int) ([]core.PriceEvent, error) {
	cursor, err := s.events.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "detected_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer cursor.Close(ctx)

	var out []core.PriceEvent
	for cursor.Next(ctx) {
		var doc mongoEvent
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, core.PriceEvent{
			ID:         doc.ID,
			ModelID:    doc.ModelID,
			PriceType:  core.PriceType(doc.PriceType),
			BetaBefore: doc.BetaBefore,
			BetaAfter:  doc.BetaAfter,
			PctChange:  doc.PctChange,
			DetectedAt: doc.DetectedAt,
		})
	}
	return out, cursor.Err()
}

func decodeObservations(ctx context.Context, cursor *mongo.Cursor) ([]core.PriceObservation, error) {
	defer cursor.Close(ctx)

	var out []core.PriceObservation
	for cursor.Next(ctx) {
		var doc mongoObservation
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode observation: %w", err)
		}
		out = append(out, core.PriceObservation{
			ModelID:    doc.ModelID,
			PriceType:  core.PriceType(doc.PriceType),
			Beta:       doc.Beta,
			ObservedAt: doc.ObservedAt,
			Source:     doc.Source,
		})
	}
	return out, cursor.Err()
}
