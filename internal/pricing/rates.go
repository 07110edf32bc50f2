// Package pricing implements the deterministic pricing formulas: depth-weighted
// input-rate blending, cache blending, the context-cost multiplier kappa, spot
// cost, and exponential-decay forward prices. Every function here is pure and
// total over its inputs; validation of caller preconditions (non-negative token
// counts, eta in [0,1], well-formed tiers) belongs to the calling boundary.
package pricing

import (
	"pricefeed/internal/core"
)

// DepthWeightedRate distributes nIn input tokens across the tier schedule and
// returns the depth-weighted input rate. For each tier the assigned token
// count is
//
//	clamp(min(nIn, tauEnd*W) - min(nIn, tauStart*W), >= 0)
//
// so overlapping or gapped tiers are tolerated rather than rejected. Returns 0
// when nIn is 0 (nothing to weight; also guards the division).
func DepthWeightedRate(rIn, nIn, w float64, tiers []core.ContextTier) float64 {
	if nIn == 0 {
		return 0
	}

	var sum float64
	for _, t := range tiers {
		tokens := min(nIn, t.TauEnd*w) - min(nIn, t.TauStart*w)
		if tokens < 0 {
			tokens = 0
		}
		sum += tokens * t.Alpha * rIn
	}
	return sum / nIn
}

// EffectiveInputRate blends the depth-weighted tier rate with the cache rate:
//
//	rInEff = rInDepth*(1-eta) + rCache*eta
//
// eta is the cache-hit ratio and must lie in [0,1]; the blend itself performs
// no clamping, out-of-range eta is a caller precondition violation. When nIn
// is 0 the result is 0 regardless of tiers or eta.
func EffectiveInputRate(rIn, rCache, eta, nIn, w float64, tiers []core.ContextTier) float64 {
	if nIn == 0 {
		return 0
	}
	depth := DepthWeightedRate(rIn, nIn, w, tiers)
	return depth*(1-eta) + rCache*eta
}
