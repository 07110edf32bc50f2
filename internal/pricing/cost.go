package pricing

import (
	"math"
)

// Kappa is the context-cost multiplier: the task's price sensitivity to a
// move in beta. Returns +Inf when nOut is 0: sensitivity is undefined for a
// task that produces no output tokens, and callers must treat the result as
// "no numeric cost figure", never propagate it as one.
func Kappa(nIn, nOut, rInEff float64) float64 {
	if nOut == 0 {
		return math.Inf(1)
	}
	return 1 + (nIn/nOut)*rInEff
}

// SpotCost is the task cost in currency at the current spot price beta
// (currency per million output tokens):
//
//	beta * (nOut + nIn*rInEff + nThink*rThink) * 1e-6
func SpotCost(beta, nOut, nIn, rInEff, nThink, rThink float64) float64 {
	return beta * (nOut + nIn*rInEff + nThink*rThink) * 1e-6
}
