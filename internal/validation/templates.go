package validation

import (
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

// BuiltinTemplates returns the named configurations the server ships.
// ValidateRequest clones on resolution, so callers can hold the map for
// the life of the process.
func BuiltinTemplates() map[string]*types.Configuration {
	return map[string]*types.Configuration{
		"default": defaultTemplate(),
	}
}

// defaultTemplate is a three-day conventional engagement sized to fit
// the demo key's per-request cap.
func defaultTemplate() *types.Configuration {
	return &types.Configuration{
		TotalPatients:  500,
		DaysOfFighting: 3,
		BaseDate:       types.NewDate(2026, time.January, 15),
		InjuryMix: map[types.InjuryCategory]float64{
			types.InjuryBattle:    0.65,
			types.InjuryNonBattle: 0.20,
			types.InjuryDisease:   0.15,
		},
		Fronts: []types.FrontConfig{
			{
				ID:           "north",
				Name:         "Northern sector",
				CasualtyRate: 1.5,
				NationalityDistribution: map[string]float64{
					"USA": 0.5,
					"GBR": 0.3,
					"POL": 0.2,
				},
			},
			{
				ID:           "south",
				Name:         "Southern sector",
				CasualtyRate: 1.0,
				NationalityDistribution: map[string]float64{
					"DEU": 0.4,
					"FRA": 0.35,
					"NLD": 0.25,
				},
			},
		},
		WarfareScenarios: map[string]bool{
			"conventional": true,
			"artillery":    true,
		},
		Intensity: types.IntensityMedium,
		Tempo:     types.TempoSustained,
	}
}
