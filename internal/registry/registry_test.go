package registry

import (
	"testing"
)

func TestLoad_EmbeddedSeed(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	m, ok := reg.Model("claude-opus-4")
	if !ok {
		t.Fatal("expected claude-opus-4 in the embedded seed")
	}
	if m.FamilyID != "claude" || m.RIn != 0.20 || m.ContextWindow != 200_000 {
		t.Fatalf("unexpected structural parameters: %+v", m)
	}

	g, ok := reg.Model("gemini-2.5-pro")
	if !ok {
		t.Fatal("expected gemini-2.5-pro in the embedded seed")
	}
	if len(g.Tiers) != 2 || g.Tiers[1].Alpha != 2.0 {
		t.Fatalf("expected tiered schedule, got %+v", g.Tiers)
	}

	if len(reg.Families()) != 3 {
		t.Fatalf("expected 3 families, got %v", reg.Families())
	}

	d := reg.Defaults()
	if fd := d.For("claude"); fd.Theta != 0.031 || fd.Sigma != 0.02 {
		t.Fatalf("wrong claude defaults: %+v", fd)
	}
	if fd := d.For("nobody"); fd.Theta != 0.05 || fd.Sigma != 0.05 {
		t.Fatalf("wrong fallback defaults: %+v", fd)
	}

	lin := reg.Lineage()
	if chain := lin["openai"]; len(chain) != 2 || chain[1] != "gpt-4.1" {
		t.Fatalf("wrong openai lineage: %v", chain)
	}
}

func TestParse_RejectsMalformedTier(t *testing.T) {
	raw := []byte(`
models:
  - model_id: broken
    family_id: test
    r_in: 0.2
    context_window: 100000
    tiers:
      - tau_start: 0.5
        tau_end: 0.3
        alpha: 1.0
`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for inverted tier bounds")
	}
}

func TestParse_RejectsDuplicateModels(t *testing.T) {
	raw := []byte(`
models:
  - model_id: m1
    family_id: f
    r_in: 0.2
    context_window: 1000
  - model_id: m1
    family_id: f
    r_in: 0.2
    context_window: 1000
`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for duplicate model id")
	}
}

func TestParse_RejectsMissingWindow(t *testing.T) {
	raw := []byte(`
models:
  - model_id: m1
    family_id: f
    r_in: 0.2
`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for non-positive context window")
	}
}

func TestModels_SortedByID(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	models := reg.Models()
	for i := 1; i < len(models); i++ {
		if models[i-1].ModelID >= models[i].ModelID {
			t.Fatalf("models not sorted: %q before %q", models[i-1].ModelID, models[i].ModelID)
		}
	}
}
