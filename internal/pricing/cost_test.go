package pricing

import (
	"math"
	"testing"

	"pricefeed/internal/core"
)

func TestKappa_ZeroOutput(t *testing.T) {
	k := Kappa(1000, 0, 0.25)
	if !math.IsInf(k, 1) {
		t.Fatalf("Kappa with nOut=0 = %v, want +Inf", k)
	}
}

func TestKappa_PureGeneration(t *testing.T) {
	// No input tokens: kappa is exactly 1.
	rEff := EffectiveInputRate(claudeRIn, claudeRCache, 0, 0, claudeW, core.FlatTiers())
	if k := Kappa(0, 1000, rEff); k != 1.0 {
		t.Fatalf("Kappa(0, 1000, 0) = %v, want 1", k)
	}
}

func TestKappa_AtLeastOne(t *testing.T) {
	for _, nIn := range []float64{0, 100, 10_000, 200_000} {
		rEff := EffectiveInputRate(claudeRIn, claudeRCache, 0, nIn, claudeW, core.FlatTiers())
		if k := Kappa(nIn, 800, rEff); k < 1.0 {
			t.Errorf("Kappa(nIn=%v) = %v, want >= 1", nIn, k)
		}
	}
}

func TestSpotCost_Scenario(t *testing.T) {
	// beta=8, nOut=1000, nIn=1000, rInEff=0.25: 8 * 1250 * 1e-6 = 0.01.
	got := SpotCost(8, 1000, 1000, 0.25, 0, 0)
	near(t, "spot cost", got, 0.01, 1e-12)
}

func TestSpotCost_OpusRAGProfile(t *testing.T) {
	rEff := EffectiveInputRate(claudeRIn, claudeRCache, 0.6, 30_000, claudeW, core.FlatTiers())
	k := Kappa(30_000, 800, rEff)
	s := SpotCost(45.0, 800, 30_000, rEff, 0, 0)

	near(t, "kappa", k, 4.49, 0.02)
	near(t, "spot cost", s, 0.162, 0.001)

	// Context compression to 3K input.
	rEffC := EffectiveInputRate(claudeRIn, claudeRCache, 0.6, 3_000, claudeW, core.FlatTiers())
	kC := Kappa(3_000, 800, rEffC)
	sC := SpotCost(45.0, 800, 3_000, rEffC, 0, 0)

	near(t, "compressed kappa", kC, 1.35, 0.02)
	near(t, "compressed cost", sC, 0.049, 0.001)
	near(t, "compression savings", s-sC, 0.113, 0.001)
}

func TestSpotCost_ThinkingTokensAddCost(t *testing.T) {
	rEff := EffectiveInputRate(claudeRIn, claudeRCache, 0, 5_000, claudeW, core.FlatTiers())
	with := SpotCost(45.0, 500, 5_000, rEff, 10_000, 0.80)
	without := SpotCost(45.0, 500, 5_000, rEff, 0, 0)
	if with <= without {
		t.Fatalf("thinking tokens should add cost: %v <= %v", with, without)
	}
}

func TestSpotCost_BatchDiscount(t *testing.T) {
	// Batch cost is sync cost scaled by rBatch, holding the task fixed.
	rEff := EffectiveInputRate(claudeRIn, claudeRCache, 0.4, 10_000, claudeW, core.FlatTiers())
	sync := SpotCost(45.0, 500, 10_000, rEff, 0, 0)
	batch := SpotCost(45.0*0.5, 500, 10_000, rEff, 0, 0)
	near(t, "batch = sync * rBatch", batch, sync*0.5, 1e-12)
}

func TestSpotCost_MonotoneInDepthAndCache(t *testing.T) {
	var prev float64
	for i, nIn := range []float64{0, 1000, 5000, 20_000, 50_000, 100_000} {
		rEff := EffectiveInputRate(claudeRIn, claudeRCache, 0.3, nIn, claudeW, core.FlatTiers())
		s := SpotCost(45.0, 800, nIn, rEff, 0, 0)
		if i > 0 && s < prev {
			t.Errorf("cost decreased with more input: %v -> %v at nIn=%v", prev, s, nIn)
		}
		prev = s
	}

	prev = math.Inf(1)
	for _, eta := range []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0} {
		rEff := EffectiveInputRate(claudeRIn, claudeRCache, eta, 30_000, claudeW, core.FlatTiers())
		s := SpotCost(45.0, 800, 30_000, rEff, 0, 0)
		if s > prev {
			t.Errorf("cost increased with more cache: %v -> %v at eta=%v", prev, s, eta)
		}
		prev = s
	}
}

func TestKappa_PredictsPriceMove(t *testing.T) {
	// kappa is the task's delta: a $1/M move in beta moves the cost by
	// kappa * nOut * 1e-6.
	cases := []struct {
		nIn, nOut, eta float64
	}{
		{30_000, 800, 0.6},
		{1_000, 5_000, 0},
	}
	for _, tc := range cases {
		rEff := EffectiveInputRate(claudeRIn, claudeRCache, tc.eta, tc.nIn, claudeW, core.FlatTiers())
		base := SpotCost(45.0, tc.nOut, tc.nIn, rEff, 0, 0)
		bumped := SpotCost(46.0, tc.nOut, tc.nIn, rEff, 0, 0)
		predicted := Kappa(tc.nIn, tc.nOut, rEff) * tc.nOut * 1e-6
		near(t, "delta-predicted move", bumped-base, predicted, 1e-4)
	}
}

func TestSpotCost_ExtremeContextRatioFinite(t *testing.T) {
	rEff := EffectiveInputRate(0.20, 0.022, 0, 200_000, 200_000, core.FlatTiers())
	k := Kappa(200_000, 1, rEff)
	s := SpotCost(45.0, 1, 100_000, rEff, 0, 0)
	if math.IsInf(k, 0) || math.IsNaN(k) {
		t.Fatalf("extreme kappa not finite: %v", k)
	}
	if s <= 0 || math.IsInf(s, 0) {
		t.Fatalf("single-output-token cost not computable: %v", s)
	}
}
