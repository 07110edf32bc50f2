// Package snapshot holds the assembled pricing view served to clients.
// A snapshot is built once per recompute cycle and swapped in atomically;
// request handlers never touch storage directly. Supports both local file
// and Redis persistence for multi-instance deployments.
package snapshot

import (
	"context"
	"sync/atomic"
	"time"

	"pricefeed/internal/core"
)

// ModelPricing is the per-model slice of a snapshot: latest spot prices,
// the extrinsic parameters resolved for the model's family, and the
// forward curve derived from them.
type ModelPricing struct {
	ModelID      string                 `json:"model_id"`
	FamilyID     string                 `json:"family_id"`
	SpotSync     *core.PriceObservation `json:"spot_sync,omitempty"`
	SpotBatch    *core.PriceObservation `json:"spot_batch,omitempty"`
	Theta        float64                `json:"theta"`
	Sigma        float64                `json:"sigma"`
	Defaulted    bool                   `json:"defaulted"`
	ForwardCurve []core.ForwardPoint    `json:"forward_curve,omitempty"`
	LastEvent    *core.PriceEvent       `json:"last_event,omitempty"`
}

// Snapshot is the full assembled pricing view.
type Snapshot struct {
	Version    int                      `json:"version"`
	ComputedAt time.Time                `json:"computed_at"`
	Models     map[string]*ModelPricing `json:"models"`
	Estimates  []core.ExtrinsicEstimate `json:"estimates"`
	Events     []core.PriceEvent        `json:"events"`
}

// Model returns the pricing view for a single model, or nil if unknown.
func (s *Snapshot) Model(modelID string) *ModelPricing {
	if s == nil {
		return nil
	}
	return s.Models[modelID]
}

// Holder provides lock-free access to the current snapshot. Readers get
// a consistent view; Swap publishes a new snapshot built by recompute.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder creates an empty holder. Current returns nil until the first Swap.
func NewHolder() *Holder {
	return &Holder{}
}

// Current returns the latest published snapshot, or nil if none exists yet.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Swap publishes a new snapshot. The previous snapshot remains valid for
// readers that already hold it.
func (h *Holder) Swap(s *Snapshot) {
	h.current.Store(s)
}

// Cache defines the interface for snapshot persistence across restarts.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the persisted snapshot.
	// Returns nil, nil if no snapshot has been persisted yet.
	Get(ctx context.Context) (*Snapshot, error)

	// Set persists the snapshot.
	Set(ctx context.Context, s *Snapshot) error

	// Close releases any resources held by the cache.
	Close() error
}
