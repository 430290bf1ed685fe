package simulator

import "github.com/casgen-dev/casgen/internal/types"

// Base per-stay outcome rates by facility and injury category. Triage
// modifiers from the evacuation config scale these per patient. Lethality
// falls off sharply as casualties move rearward; return-to-duty rises.
var baseKIA = map[types.Facility]map[types.InjuryCategory]float64{
	types.FacilityPOI: {
		types.InjuryBattle:    0.15,
		types.InjuryNonBattle: 0.05,
		types.InjuryDisease:   0.02,
	},
	types.FacilityRole1: {
		types.InjuryBattle:    0.08,
		types.InjuryNonBattle: 0.03,
		types.InjuryDisease:   0.015,
	},
	types.FacilityRole2: {
		types.InjuryBattle:    0.05,
		types.InjuryNonBattle: 0.02,
		types.InjuryDisease:   0.01,
	},
	types.FacilityRole3: {
		types.InjuryBattle:    0.03,
		types.InjuryNonBattle: 0.01,
		types.InjuryDisease:   0.005,
	},
	types.FacilityRole4: {
		types.InjuryBattle:    0.01,
		types.InjuryNonBattle: 0.005,
		types.InjuryDisease:   0.002,
	},
}

var baseRTD = map[types.Facility]map[types.InjuryCategory]float64{
	types.FacilityPOI: {
		types.InjuryBattle:    0.05,
		types.InjuryNonBattle: 0.15,
		types.InjuryDisease:   0.20,
	},
	types.FacilityRole1: {
		types.InjuryBattle:    0.15,
		types.InjuryNonBattle: 0.30,
		types.InjuryDisease:   0.35,
	},
	types.FacilityRole2: {
		types.InjuryBattle:    0.25,
		types.InjuryNonBattle: 0.40,
		types.InjuryDisease:   0.45,
	},
	types.FacilityRole3: {
		types.InjuryBattle:    0.35,
		types.InjuryNonBattle: 0.50,
		types.InjuryDisease:   0.55,
	},
}

// transitKIAFactor halves the evacuation KIA rate for casualties in transit
// between facilities.
const transitKIAFactor = 0.5

// maxOutcomeProbability caps any single draw so extreme modifier stacks never
// make an outcome certain.
const maxOutcomeProbability = 0.95

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > maxOutcomeProbability {
		return maxOutcomeProbability
	}
	return p
}

// kiaProbability is the chance a casualty dies during the facility stay.
func kiaProbability(f types.Facility, cat types.InjuryCategory, triageModifier float64) float64 {
	return clampProbability(baseKIA[f][cat] * triageModifier)
}

// rtdProbability is the chance a non-severe casualty returns to duty from the
// facility instead of moving rearward. Role4 has no entry; discharge there is
// handled by the terminal auto-RTD rule.
func rtdProbability(f types.Facility, cat types.InjuryCategory, triageModifier float64) float64 {
	return clampProbability(baseRTD[f][cat] * triageModifier)
}

// transitKIAProbability is the chance a casualty dies en route to the next
// facility.
func transitKIAProbability(f types.Facility, cat types.InjuryCategory, triageModifier float64) float64 {
	return clampProbability(baseKIA[f][cat] * triageModifier * transitKIAFactor)
}
