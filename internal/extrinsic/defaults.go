package extrinsic

// FamilyDefault is the documented cold-start theta/sigma pair for a family.
type FamilyDefault struct {
	Theta float64
	Sigma float64
}

// Defaults maps family IDs to their documented default estimates, with a
// single global fallback for undocumented families. One explicit immutable
// table, not scattered conditionals.
type Defaults struct {
	ByFamily map[string]FamilyDefault
	Fallback FamilyDefault
}

// For returns the documented default for a family, or the global fallback.
func (d Defaults) For(familyID string) FamilyDefault {
	if fd, ok := d.ByFamily[familyID]; ok {
		return fd
	}
	return d.Fallback
}

// DocumentedDefaults returns the published per-family decay/volatility table.
// Values come from the vendors' observed repricing cadence: claude reprices
// slowly with low variance, openai lines decay fastest.
func DocumentedDefaults() Defaults {
	return Defaults{
		ByFamily: map[string]FamilyDefault{
			"claude": {Theta: 0.031, Sigma: 0.02},
			"openai": {Theta: 0.08, Sigma: 0.04},
			"gemini": {Theta: 0.05, Sigma: 0.03},
		},
		Fallback: FamilyDefault{Theta: 0.05, Sigma: 0.05},
	}
}
