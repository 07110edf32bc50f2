package pricing

import (
	"math"
	"testing"

	"pricefeed/internal/core"
)

func near(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (tol %v)", name, got, want, tol)
	}
}

// Claude-shaped structural parameters used across the formula tests.
var (
	claudeRIn    = 0.20
	claudeRCache = 0.022
	claudeW      = 200_000.0

	openaiRIn    = 0.25
	openaiRCache = 0.0625
	openaiW      = 1_000_000.0

	// Tiered schedule: 1x below 12.8% of the window, 2x above.
	geminiRIn   = 0.125
	geminiW     = 1_000_000.0
	geminiTiers = []core.ContextTier{
		{TauStart: 0, TauEnd: 0.128, Alpha: 1.0},
		{TauStart: 0.128, TauEnd: 1.0, Alpha: 2.0},
	}
)

func TestEffectiveInputRate_ZeroInput(t *testing.T) {
	// nIn=0 must short-circuit to 0 regardless of tiers or eta.
	got := EffectiveInputRate(claudeRIn, claudeRCache, 0.6, 0, claudeW, core.FlatTiers())
	if got != 0 {
		t.Fatalf("EffectiveInputRate with nIn=0 = %v, want 0", got)
	}

	got = EffectiveInputRate(geminiRIn, 0.015, 1.0, 0, geminiW, geminiTiers)
	if got != 0 {
		t.Fatalf("EffectiveInputRate with nIn=0 (tiered, eta=1) = %v, want 0", got)
	}
}

func TestEffectiveInputRate_FullCache(t *testing.T) {
	// eta=1: the rate collapses to rCache exactly.
	got := EffectiveInputRate(claudeRIn, claudeRCache, 1.0, 30_000, claudeW, core.FlatTiers())
	if got != claudeRCache {
		t.Fatalf("EffectiveInputRate at eta=1 = %v, want %v", got, claudeRCache)
	}
}

func TestEffectiveInputRate_NoCache(t *testing.T) {
	// eta=0 with flat pricing: the rate collapses to rIn exactly.
	got := EffectiveInputRate(claudeRIn, claudeRCache, 0.0, 30_000, claudeW, core.FlatTiers())
	if got != claudeRIn {
		t.Fatalf("EffectiveInputRate at eta=0 = %v, want %v", got, claudeRIn)
	}
}

func TestEffectiveInputRate_FlatScenarios(t *testing.T) {
	// Flat tier, rIn=0.25, rCache=0.0625, nIn=1000, W=1e6.
	rEff := EffectiveInputRate(openaiRIn, openaiRCache, 0, 1000, openaiW, core.FlatTiers())
	near(t, "rInEff eta=0", rEff, 0.25, 1e-12)

	rEff = EffectiveInputRate(openaiRIn, openaiRCache, 1, 1000, openaiW, core.FlatTiers())
	near(t, "rInEff eta=1", rEff, 0.0625, 1e-12)
}

func TestEffectiveInputRate_BlendedCache(t *testing.T) {
	// Opus RAG profile: eta=0.6, 30K input on a flat schedule.
	rEff := EffectiveInputRate(claudeRIn, claudeRCache, 0.6, 30_000, claudeW, core.FlatTiers())
	near(t, "rInEff", rEff, 0.093, 0.001)
}

func TestDepthWeightedRate_Tiered(t *testing.T) {
	// 100K tokens sit entirely below the 128K boundary: rate is rIn.
	got := DepthWeightedRate(geminiRIn, 100_000, geminiW, geminiTiers)
	near(t, "below boundary", got, geminiRIn, 1e-12)

	// 500K tokens: 128K at alpha=1, 372K at alpha=2.
	want := (128_000*1.0*geminiRIn + 372_000*2.0*geminiRIn) / 500_000
	got = DepthWeightedRate(geminiRIn, 500_000, geminiW, geminiTiers)
	near(t, "500K blend", got, want, 1e-9)

	// Full window: 128K at alpha=1, 872K at alpha=2.
	want = (128_000*1.0*geminiRIn + 872_000*2.0*geminiRIn) / 1_000_000
	got = DepthWeightedRate(geminiRIn, 1_000_000, geminiW, geminiTiers)
	near(t, "1M blend", got, want, 1e-9)
}

func TestDepthWeightedRate_DeeperIsMoreExpensive(t *testing.T) {
	a := DepthWeightedRate(geminiRIn, 100_000, geminiW, geminiTiers)
	b := DepthWeightedRate(geminiRIn, 500_000, geminiW, geminiTiers)
	c := DepthWeightedRate(geminiRIn, 1_000_000, geminiW, geminiTiers)
	if !(c > b && b > a) {
		t.Fatalf("expected rate to increase with depth, got %v, %v, %v", a, b, c)
	}
}

func TestEffectiveInputRate_TieredWithCache(t *testing.T) {
	depth := DepthWeightedRate(geminiRIn, 500_000, geminiW, geminiTiers)
	want := depth*0.5 + 0.015*0.5
	got := EffectiveInputRate(geminiRIn, 0.015, 0.5, 500_000, geminiW, geminiTiers)
	near(t, "tiered+cache", got, want, 1e-9)
}

func TestDepthWeightedRate_MalformedTiersClamp(t *testing.T) {
	// Overlapping and gapped tiers must not produce negative token counts.
	tiers := []core.ContextTier{
		{TauStart: 0, TauEnd: 0.5, Alpha: 1.0},
		{TauStart: 0.3, TauEnd: 0.6, Alpha: 1.0}, // overlaps previous
		{TauStart: 0.9, TauEnd: 1.0, Alpha: 3.0}, // gap before this one
	}
	got := DepthWeightedRate(0.2, 100_000, 1_000_000, tiers)
	if got < 0 {
		t.Fatalf("blended rate went negative: %v", got)
	}
}
