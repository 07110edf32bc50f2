// Package extrinsic estimates the extrinsic parameters of a model family from
// its lineage price history: theta, the monthly exponential decay rate of the
// spot price, and sigma, the realized monthly volatility of log returns.
//
// The estimator is total: for any input, including an empty history, it
// returns a usable estimate. Insufficient history resolves to the documented
// per-family default, which is designed cold-start behavior rather than an
// error.
package extrinsic

import (
	"math"
	"sort"
	"time"

	"pricefeed/internal/core"
)

const (
	// daysPerMonth converts observation gaps to months (365.25/12).
	daysPerMonth = 30.44

	// minPairGapMonths discards observation pairs closer than ~two weeks;
	// scrape jitter at that spacing produces noise, not repricing signal.
	minPairGapMonths = 0.5

	// thetaRecencyDecay is the geometric weight applied per step away from
	// the most recent log return when averaging theta. Sigma is deliberately
	// left unweighted: volatility is treated as a stationary property of the
	// window while pricing strategy is not. Preserve the asymmetry.
	thetaRecencyDecay = 0.85

	thetaMin = 0.01
	thetaMax = 0.15
	sigmaMin = 0.02
	sigmaMax = 0.25
)

// logReturn is one qualifying consecutive-pair return and its gap in months.
type logReturn struct {
	value    float64
	dmMonths float64
}

// Estimate computes theta and sigma for a family from its lineage-filtered
// price observations. Callers pass observations already restricted to the
// family's lineage (see the lineage package); ordering is not assumed and is
// restored here. The result is always valid: fewer than two qualifying
// observations, or zero surviving log returns, fall back to the documented
// family default.
func Estimate(familyID string, obs []core.PriceObservation, defaults Defaults, now time.Time) core.ExtrinsicEstimate {
	sorted := make([]core.PriceObservation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
	})

	est := core.ExtrinsicEstimate{
		Subject:       familyID,
		NObservations: len(sorted),
		ComputedAt:    now,
	}
	if len(sorted) > 0 {
		est.WindowStart = sorted[0].ObservedAt
		est.WindowEnd = sorted[len(sorted)-1].ObservedAt
	}

	if len(sorted) < 2 {
		return withDefaults(est, familyID, defaults)
	}

	returns := qualifyingReturns(sorted)
	if len(returns) == 0 {
		return withDefaults(est, familyID, defaults)
	}

	est.Theta = clamp(weightedTheta(returns), thetaMin, thetaMax)
	est.Sigma = clamp(realizedSigma(returns), sigmaMin, sigmaMax)
	return est
}

// qualifyingReturns derives the log returns from consecutive observation
// pairs, keeping only pairs more than minPairGapMonths apart with both
// prices positive.
func qualifyingReturns(sorted []core.PriceObservation) []logReturn {
	var returns []logReturn
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		dm := curr.ObservedAt.Sub(prev.ObservedAt).Hours() / 24 / daysPerMonth
		if dm <= minPairGapMonths {
			continue
		}
		if prev.Beta <= 0 || curr.Beta <= 0 {
			continue
		}
		returns = append(returns, logReturn{
			value:    math.Log(curr.Beta / prev.Beta),
			dmMonths: dm,
		})
	}
	return returns
}

// weightedTheta averages the per-pair decay observations -logReturn/dm with
// geometric recency weights: the newest pair gets weight 1, each older pair
// thetaRecencyDecay times less.
func weightedTheta(returns []logReturn) float64 {
	n := len(returns)
	var weighted, weightSum float64
	for i, r := range returns {
		thetaObs := -r.value / r.dmMonths
		w := math.Pow(thetaRecencyDecay, float64(n-1-i))
		weighted += thetaObs * w
		weightSum += w
	}
	return weighted / weightSum
}

// realizedSigma is the population standard deviation (divide by N, not N-1)
// of the per-month-normalized log returns, unweighted.
func realizedSigma(returns []logReturn) float64 {
	n := float64(len(returns))

	var mean float64
	for _, r := range returns {
		mean += r.value / r.dmMonths
	}
	mean /= n

	var variance float64
	for _, r := range returns {
		d := r.value/r.dmMonths - mean
		variance += d * d
	}
	variance /= n

	return math.Sqrt(variance)
}

func withDefaults(est core.ExtrinsicEstimate, familyID string, defaults Defaults) core.ExtrinsicEstimate {
	fd := defaults.For(familyID)
	est.Theta = fd.Theta
	est.Sigma = fd.Sigma
	est.Defaulted = true
	return est
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
