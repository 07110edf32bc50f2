package pricing

import (
	"math"
	"time"

	"pricefeed/internal/core"
)

// Tenors are the fixed forward-curve horizons in months.
var Tenors = []float64{1, 3, 6}

// DecayFactor is D(t) = e^(-theta*t) with t in months. Lies in (0,1] for
// theta >= 0, t >= 0.
func DecayFactor(theta, t float64) float64 {
	return math.Exp(-theta * t)
}

// ForwardPrice is the decay-adjusted price beta*e^(-theta*t).
func ForwardPrice(beta, theta, t float64) float64 {
	return beta * DecayFactor(theta, t)
}

// GenerateForwardCurve produces the forward points for one (model, price type)
// at the fixed tenors. The curve is always regenerated wholesale from the
// current spot and theta; callers replace the previous curve, never patch
// individual points.
func GenerateForwardCurve(modelID string, priceType core.PriceType, betaSpot, theta float64, now time.Time) []core.ForwardPoint {
	points := make([]core.ForwardPoint, 0, len(Tenors))
	for _, tenor := range Tenors {
		d := DecayFactor(theta, tenor)
		points = append(points, core.ForwardPoint{
			ModelID:     modelID,
			PriceType:   priceType,
			TenorMonths: tenor,
			BetaSpot:    betaSpot,
			ThetaUsed:   theta,
			BetaForward: betaSpot * d,
			DecayFactor: d,
			ComputedAt:  now,
		})
	}
	return points
}
