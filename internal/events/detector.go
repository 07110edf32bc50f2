// Package events detects price changes between consecutive observations of a
// (model, price type) pair.
package events

import (
	"sort"

	"pricefeed/internal/core"
)

// Detect compares the two most recent observations and returns a PriceEvent
// when the price actually changed, or nil otherwise. Fewer than two
// observations, or equal values, yield no event. The comparison is stateless:
// the caller invokes it once per (model, price type) per recomputation cycle
// with whatever recent observations it holds; only the newest two matter.
func Detect(modelID string, priceType core.PriceType, recent []core.PriceObservation) *core.PriceEvent {
	if len(recent) < 2 {
		return nil
	}

	sorted := make([]core.PriceObservation, len(recent))
	copy(sorted, recent)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
	})

	prev := sorted[len(sorted)-2]
	curr := sorted[len(sorted)-1]
	if curr.Beta == prev.Beta {
		return nil
	}

	return &core.PriceEvent{
		ModelID:    modelID,
		PriceType:  priceType,
		BetaBefore: prev.Beta,
		BetaAfter:  curr.Beta,
		PctChange:  (curr.Beta - prev.Beta) / prev.Beta,
		DetectedAt: curr.ObservedAt,
	}
}
