// Package scenario implements the temporal casualty event generator.
// It turns a validated configuration into a time-ordered sequence of
// casualty events whose patient counts sum exactly to the configured
// total.
package scenario

import (
	"sort"

	"github.com/casgen-dev/casgen/internal/types"
)

// Definition describes one warfare scenario the generator models.
// Tempo pins the scenario to a shape family; an empty Tempo defers to
// the configuration's tempo.
type Definition struct {
	ID                    string
	Tempo                 types.Tempo
	Weight                float64
	SurgeHours            []int
	SurgeMultiplier       float64
	SurgeBaseline         float64
	MassCasualtyThreshold int
	BypassProbability     float64
	TriageWeights         map[types.InjuryCategory]map[types.Triage]float64
}

// defaultTriageWeights applies when a scenario carries no override.
// Rough clinical expectation: battle injuries skew urgent, disease
// skews routine.
var defaultTriageWeights = map[types.InjuryCategory]map[types.Triage]float64{
	types.InjuryBattle: {
		types.TriageT1: 0.4, types.TriageT2: 0.4, types.TriageT3: 0.2,
	},
	types.InjuryNonBattle: {
		types.TriageT1: 0.2, types.TriageT2: 0.3, types.TriageT3: 0.5,
	},
	types.InjuryDisease: {
		types.TriageT1: 0.1, types.TriageT2: 0.3, types.TriageT3: 0.6,
	},
}

// DefaultTriageWeights returns the engine-wide triage distribution for
// an injury category.
func DefaultTriageWeights(cat types.InjuryCategory) map[types.Triage]float64 {
	return defaultTriageWeights[cat]
}

var definitions = map[string]Definition{
	"conventional": {
		ID:                    "conventional",
		Weight:                1.0,
		MassCasualtyThreshold: 15,
		BypassProbability:     0.03,
	},
	"artillery": {
		ID:                    "artillery",
		Tempo:                 types.TempoSurge,
		Weight:                1.2,
		SurgeHours:            []int{6, 14, 22},
		SurgeMultiplier:       15,
		SurgeBaseline:         0,
		MassCasualtyThreshold: 10,
		BypassProbability:     0.03,
		TriageWeights: map[types.InjuryCategory]map[types.Triage]float64{
			types.InjuryBattle: {
				types.TriageT1: 0.5, types.TriageT2: 0.35, types.TriageT3: 0.15,
			},
		},
	},
	"urban": {
		ID:                    "urban",
		Weight:                1.0,
		MassCasualtyThreshold: 12,
		BypassProbability:     0.05,
		TriageWeights: map[types.InjuryCategory]map[types.Triage]float64{
			types.InjuryBattle: {
				types.TriageT1: 0.45, types.TriageT2: 0.35, types.TriageT3: 0.2,
			},
		},
	},
	"guerrilla": {
		ID:                    "guerrilla",
		Tempo:                 types.TempoIntermittent,
		Weight:                0.8,
		MassCasualtyThreshold: 8,
		BypassProbability:     0.02,
	},
	"drone": {
		ID:                    "drone",
		Tempo:                 types.TempoIntermittent,
		Weight:                0.7,
		MassCasualtyThreshold: 6,
		BypassProbability:     0.04,
	},
	"airstrike": {
		ID:                    "airstrike",
		Tempo:                 types.TempoSurge,
		Weight:                0.9,
		SurgeHours:            []int{4, 18},
		SurgeMultiplier:       10,
		SurgeBaseline:         0.1,
		MassCasualtyThreshold: 10,
		BypassProbability:     0.03,
	},
}

// KnownIDs returns the scenario ids the generator models, sorted.
func KnownIDs() []string {
	out := make([]string, 0, len(definitions))
	for id := range definitions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the definition for a scenario id.
func Lookup(id string) (Definition, bool) {
	def, ok := definitions[id]
	return def, ok
}

// TriageWeightsFor resolves the triage distribution for an injury
// category under the given active scenarios: the highest-weight active
// scenario with an override wins, otherwise the engine default.
func TriageWeightsFor(cat types.InjuryCategory, active []string) map[types.Triage]float64 {
	best := -1.0
	var chosen map[types.Triage]float64
	for _, id := range active {
		def, ok := definitions[id]
		if !ok || def.TriageWeights == nil {
			continue
		}
		w, ok := def.TriageWeights[cat]
		if !ok {
			continue
		}
		if def.Weight > best {
			best = def.Weight
			chosen = w
		}
	}
	if chosen != nil {
		return chosen
	}
	return defaultTriageWeights[cat]
}

// BypassProbabilityFor resolves the POI->Role2 direct evacuation
// probability: the highest-weight active scenario's value, or the
// engine default of 3%.
func BypassProbabilityFor(active []string) float64 {
	best := -1.0
	p := 0.03
	for _, id := range active {
		def, ok := definitions[id]
		if !ok {
			continue
		}
		if def.Weight > best {
			best = def.Weight
			p = def.BypassProbability
		}
	}
	return p
}

// MassCasualtyThresholdFor resolves the mass-casualty flag threshold
// for a scenario id, falling back to the conventional threshold.
func MassCasualtyThresholdFor(id string) int {
	if def, ok := definitions[id]; ok {
		return def.MassCasualtyThreshold
	}
	return definitions["conventional"].MassCasualtyThreshold
}
