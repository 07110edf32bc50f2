// Package core provides the domain types shared by the pricing analytics engine.
package core

import (
	"encoding/json"
	"math"
	"time"
)

// PriceType distinguishes synchronous and batch pricing for the same model.
type PriceType string

const (
	// PriceTypeSync is the interactive (synchronous) price.
	PriceTypeSync PriceType = "sync"
	// PriceTypeBatch is the discounted batch-processing price.
	PriceTypeBatch PriceType = "batch"
)

// Valid reports whether pt is a known price type.
func (pt PriceType) Valid() bool {
	return pt == PriceTypeSync || pt == PriceTypeBatch
}

// ContextTier is a context-window depth band and its input-rate multiplier.
// TauStart and TauEnd are fractions of the context window W; well-formed
// tiers satisfy 0 <= TauStart < TauEnd <= 1. The blending formula clamps
// token ranges, so overlapping or gapped tiers degrade gracefully rather
// than erroring.
type ContextTier struct {
	TauStart float64 `json:"tau_start" yaml:"tau_start"`
	TauEnd   float64 `json:"tau_end" yaml:"tau_end"`
	Alpha    float64 `json:"alpha" yaml:"alpha"`
}

// FlatTiers is the single flat tier callers supply when a model has no
// configured tier schedule: the whole window at multiplier 1.
func FlatTiers() []ContextTier {
	return []ContextTier{{TauStart: 0, TauEnd: 1, Alpha: 1.0}}
}

// PriceObservation is one recorded spot price for a model. Observations are
// immutable once recorded; Beta is the price in currency per million output
// tokens.
type PriceObservation struct {
	ModelID    string    `json:"model_id"`
	PriceType  PriceType `json:"price_type"`
	Beta       float64   `json:"beta"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// ModelStructural holds the structural pricing parameters of one model.
// Rates are expressed relative to the output rate: RIn is the input-token
// rate as a fraction of Beta, RCache the cached-input rate, RThink the
// reasoning-token rate (zero for non-reasoning models), RBatch the batch
// discount on Beta.
type ModelStructural struct {
	ModelID       string        `json:"model_id" yaml:"model_id"`
	FamilyID      string        `json:"family_id" yaml:"family_id"`
	RIn           float64       `json:"r_in" yaml:"r_in"`
	RCache        float64       `json:"r_cache" yaml:"r_cache"`
	RThink        float64       `json:"r_think" yaml:"r_think"`
	RBatch        float64       `json:"r_batch" yaml:"r_batch"`
	ContextWindow float64       `json:"context_window" yaml:"context_window"`
	IsReasoning   bool          `json:"is_reasoning" yaml:"is_reasoning"`
	Tiers         []ContextTier `json:"tiers,omitempty" yaml:"tiers"`
}

// EffectiveTiers returns the model's tier schedule, or the flat single tier
// when none is configured.
func (m *ModelStructural) EffectiveTiers() []ContextTier {
	if len(m.Tiers) == 0 {
		return FlatTiers()
	}
	return m.Tiers
}

// LineageMap maps a family ID to the ordered chain of predecessor model-ID
// tokens treated as price-continuous for decay and volatility estimation.
type LineageMap map[string][]string

// ExtrinsicEstimate is the decay/volatility estimate for one family,
// fully recomputed each cycle and never incrementally merged.
type ExtrinsicEstimate struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	Theta         float64   `json:"theta"`
	Sigma         float64   `json:"sigma"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	NObservations int       `json:"n_observations"`
	// Defaulted marks estimates produced by the cold-start fallback
	// (insufficient qualifying history) rather than regression.
	Defaulted  bool      `json:"defaulted"`
	ComputedAt time.Time `json:"computed_at"`
}

// ForwardPoint is one tenor on a model's forward price curve. Derived data:
// regenerated wholesale whenever spot or theta changes.
type ForwardPoint struct {
	ModelID     string    `json:"model_id"`
	PriceType   PriceType `json:"price_type"`
	TenorMonths float64   `json:"tenor_months"`
	BetaSpot    float64   `json:"beta_spot"`
	ThetaUsed   float64   `json:"theta_used"`
	BetaForward float64   `json:"beta_forward"`
	DecayFactor float64   `json:"decay_factor"`
	ComputedAt  time.Time `json:"computed_at"`
}

// PriceEvent records an actual price change between the two most recent
// observations of a (model, price type) pair.
type PriceEvent struct {
	ID         string    `json:"id"`
	ModelID    string    `json:"model_id"`
	PriceType  PriceType `json:"price_type"`
	BetaBefore float64   `json:"beta_before"`
	BetaAfter  float64   `json:"beta_after"`
	PctChange  float64   `json:"pct_change"`
	DetectedAt time.Time `json:"detected_at"`
}

// TaskProfile describes one inference task for cost evaluation. Eta is the
// cache-hit ratio in [0,1]; token counts must be non-negative. Validation
// happens at the calling boundary, not inside the formulas.
type TaskProfile struct {
	ModelID   string    `json:"model_id"`
	PriceType PriceType `json:"price_type"`
	NIn       float64   `json:"n_in"`
	NOut      float64   `json:"n_out"`
	NThink    float64   `json:"n_think"`
	Eta       float64   `json:"eta"`
}

// TaskQuote is the priced result of a task profile: the blended input rate,
// the context-cost multiplier kappa, and the spot cost in currency.
// Degenerate is set when NOut was zero and kappa is +Inf; such quotes carry
// no usable kappa and must not be treated as a numeric sensitivity.
type TaskQuote struct {
	ModelID    string    `json:"model_id"`
	PriceType  PriceType `json:"price_type"`
	Beta       float64   `json:"beta"`
	RInEff     float64   `json:"r_in_eff"`
	Kappa      float64   `json:"-"`
	SpotCost   float64   `json:"spot_cost"`
	Degenerate bool      `json:"degenerate"`
}

// MarshalJSON serializes the quote with kappa as a number, or the string
// "Infinity" for the degenerate zero-output case, which encoding/json
// cannot represent as a float.
func (q TaskQuote) MarshalJSON() ([]byte, error) {
	type alias TaskQuote
	out := struct {
		alias
		Kappa any `json:"kappa"`
	}{alias: alias(q)}

	if math.IsInf(q.Kappa, 1) {
		out.Kappa = "Infinity"
	} else {
		out.Kappa = q.Kappa
	}
	return json.Marshal(out)
}
