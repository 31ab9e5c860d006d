package config

import (
	"maps"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/research-pipeline/internal/model"
)

// Presets maps a preset name to its phase control.
type Presets map[string]model.PhaseControl

// BuiltinPresets are always available; a presets file may override them.
func BuiltinPresets() Presets {
	scraping := model.PhaseScraping
	return Presets{
		"full": model.DefaultPhaseControl(),
		"auto": {
			Mode:   model.PhaseModeSequential,
			Phases: model.AllPhases(),
		},
		"scrape-only": {
			Mode:      model.PhaseModeSingle,
			Phases:    []model.Phase{model.PhaseScraping},
			StopAfter: &scraping,
		},
		"intel-only": {
			Mode:   model.PhaseModeSingle,
			Phases: []model.Phase{model.PhaseEnrichment},
		},
	}
}

// LoadPresets returns the builtin presets merged with the ones in path. An
// empty path returns the builtins. Every preset is validated.
//
//	presets:
//	  quick:
//	    mode: single
//	    phases: [DISCOVERY, SCRAPING]
//	    stop_after: SCRAPING
func LoadPresets(path string) (Presets, error) {
	out := BuiltinPresets()
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read presets %s", path)
	}

	var wrapper struct {
		Presets map[string]model.PhaseControl `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "config: parse presets")
	}
	for name, pc := range wrapper.Presets {
		if pc.Mode == "" {
			pc.Mode = model.PhaseModeSequential
		}
		if err := pc.Validate(); err != nil {
			return nil, eris.Wrapf(err, "config: preset %q", name)
		}
		out[name] = pc
	}
	return out, nil
}

// Get returns the named preset.
func (p Presets) Get(name string) (model.PhaseControl, error) {
	pc, ok := p[name]
	if !ok {
		return model.PhaseControl{}, model.Validationf("unknown phase preset %q (have %v)", name, p.Names())
	}
	return pc, nil
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	return slices.Sorted(maps.Keys(p))
}
