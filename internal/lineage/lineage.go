// Package lineage resolves which historical price observations belong to a
// model family's price-continuous chain. Vendors reuse flagship model names
// for smaller, cheaper siblings ("-mini", "-lite", "-flash" variants); those
// must not pollute the flagship's price history when estimating decay.
package lineage

import (
	"strings"

	"pricefeed/internal/core"
)

// downgradeMarkers are the naming suffixes vendors use for the smaller,
// cheaper siblings of a flagship model. A model ID containing any of these
// is never in a flagship's lineage, even when it shares the prefix.
var downgradeMarkers = []string{"-mini", "-lite", "-flash"}

// Resolver answers lineage questions against an injected lineage table.
// The zero map is valid: every family then falls back to self-lineage.
type Resolver struct {
	table core.LineageMap
}

// NewResolver creates a Resolver over the given lineage table. The table is
// injected rather than read from process-wide state so alternate tables are
// substitutable in tests.
func NewResolver(table core.LineageMap) *Resolver {
	return &Resolver{table: table}
}

// Chain returns the ordered predecessor tokens for a family. A family absent
// from the table is its own single-token lineage.
func (r *Resolver) Chain(familyID string) []string {
	if chain, ok := r.table[familyID]; ok && len(chain) > 0 {
		return chain
	}
	return []string{familyID}
}

// InLineage reports whether a model ID belongs to the lineage token: either
// an exact match, or the token plus a "-" separated suffix that carries no
// downgraded-variant marker.
func InLineage(modelID, token string) bool {
	if modelID == token {
		return true
	}
	if !strings.HasPrefix(modelID, token+"-") {
		return false
	}
	for _, marker := range downgradeMarkers {
		if strings.Contains(modelID, marker) {
			return false
		}
	}
	return true
}

// FilterObservations returns the sync-type observations whose model ID is in
// the family's lineage, preserving input order. Only sync prices feed the
// extrinsic estimator; batch prices track sync by a fixed discount and would
// double-count the same moves.
func (r *Resolver) FilterObservations(familyID string, obs []core.PriceObservation) []core.PriceObservation {
	chain := r.Chain(familyID)

	var out []core.PriceObservation
	for _, o := range obs {
		if o.PriceType != core.PriceTypeSync {
			continue
		}
		for _, token := range chain {
			if InLineage(o.ModelID, token) {
				out = append(out, o)
				break
			}
		}
	}
	return out
}
