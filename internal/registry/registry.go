// Package registry loads and serves the model registry: structural pricing
// parameters per model, the per-family default theta/sigma table, and the
// lineage map. The registry is read from a YAML seed (an embedded default or
// an operator-supplied file) and is immutable after load.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"pricefeed/internal/core"
	"pricefeed/internal/extrinsic"
)

//go:embed seed.yaml
var embeddedSeed []byte

// FamilyEntry is the per-family registry data: the ordered lineage chain and
// the documented default extrinsics used on cold start.
type FamilyEntry struct {
	Lineage      []string `yaml:"lineage"`
	DefaultTheta *float64 `yaml:"default_theta"`
	DefaultSigma *float64 `yaml:"default_sigma"`
}

// registryFile is the YAML document shape.
type registryFile struct {
	Models   []core.ModelStructural `yaml:"models"`
	Families map[string]FamilyEntry `yaml:"families"`
	Fallback struct {
		Theta float64 `yaml:"theta"`
		Sigma float64 `yaml:"sigma"`
	} `yaml:"fallback"`
}

// Registry is the loaded, immutable model registry.
type Registry struct {
	byModel  map[string]core.ModelStructural
	ordered  []string
	families map[string]FamilyEntry
	defaults extrinsic.Defaults
}

// Load reads the registry from path, or from the embedded seed when path is
// empty.
func Load(path string) (*Registry, error) {
	raw := embeddedSeed
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading registry file: %w", err)
		}
		raw = data
	}
	return Parse(raw)
}

// Parse deserializes and validates a registry document.
func Parse(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing registry YAML: %w", err)
	}

	reg := &Registry{
		byModel:  make(map[string]core.ModelStructural, len(file.Models)),
		families: file.Families,
		defaults: extrinsic.Defaults{
			ByFamily: make(map[string]extrinsic.FamilyDefault, len(file.Families)),
			Fallback: extrinsic.FamilyDefault{
				Theta: file.Fallback.Theta,
				Sigma: file.Fallback.Sigma,
			},
		},
	}
	if reg.families == nil {
		reg.families = map[string]FamilyEntry{}
	}
	if reg.defaults.Fallback.Theta == 0 && reg.defaults.Fallback.Sigma == 0 {
		reg.defaults.Fallback = extrinsic.DocumentedDefaults().Fallback
	}

	for _, m := range file.Models {
		if err := validateModel(m); err != nil {
			return nil, fmt.Errorf("model %q: %w", m.ModelID, err)
		}
		if _, dup := reg.byModel[m.ModelID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ModelID)
		}
		reg.byModel[m.ModelID] = m
		reg.ordered = append(reg.ordered, m.ModelID)
	}
	sort.Strings(reg.ordered)

	for familyID, fe := range reg.families {
		fd := extrinsic.DocumentedDefaults().Fallback
		if fe.DefaultTheta != nil {
			fd.Theta = *fe.DefaultTheta
		}
		if fe.DefaultSigma != nil {
			fd.Sigma = *fe.DefaultSigma
		}
		reg.defaults.ByFamily[familyID] = fd
	}

	return reg, nil
}

func validateModel(m core.ModelStructural) error {
	if m.ModelID == "" {
		return fmt.Errorf("model id is required")
	}
	if m.FamilyID == "" {
		return fmt.Errorf("family id is required")
	}
	if m.ContextWindow <= 0 {
		return fmt.Errorf("context window must be positive, got %v", m.ContextWindow)
	}
	for i, tier := range m.Tiers {
		if tier.TauStart < 0 || tier.TauEnd > 1 || tier.TauStart >= tier.TauEnd {
			return fmt.Errorf("tier %d: malformed bounds [%v, %v]", i, tier.TauStart, tier.TauEnd)
		}
		if tier.Alpha <= 0 {
			return fmt.Errorf("tier %d: alpha must be positive, got %v", i, tier.Alpha)
		}
	}
	return nil
}

// Model returns the structural parameters for a model ID.
func (r *Registry) Model(modelID string) (core.ModelStructural, bool) {
	m, ok := r.byModel[modelID]
	return m, ok
}

// Models returns all registered models in model-ID order.
func (r *Registry) Models() []core.ModelStructural {
	out := make([]core.ModelStructural, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.byModel[id])
	}
	return out
}

// Families returns the registered family IDs in sorted order.
func (r *Registry) Families() []string {
	out := make([]string, 0, len(r.families))
	for id := range r.families {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Lineage returns the lineage map for injection into a lineage.Resolver.
func (r *Registry) Lineage() core.LineageMap {
	m := make(core.LineageMap, len(r.families))
	for id, fe := range r.families {
		if len(fe.Lineage) > 0 {
			m[id] = fe.Lineage
		}
	}
	return m
}

// Defaults returns the per-family default extrinsics table.
func (r *Registry) Defaults() extrinsic.Defaults {
	return r.defaults
}
