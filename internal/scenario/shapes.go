package scenario

import (
	"math"
	"math/rand"

	"github.com/casgen-dev/casgen/internal/types"
)

// binsPerHour fixes the generator's sub-hour resolution at 5-minute
// bins.
const binsPerHour = 12

// shapeFor builds the per-bin intensity shape for one scenario over
// the horizon. Shapes are relative weights; the generator normalizes
// the mixed shape before sampling. rng drives only the intermittent
// family so shapes stay reproducible per job.
func shapeFor(def Definition, tempo types.Tempo, bins int, rng *rand.Rand) []float64 {
	if def.Tempo != "" {
		tempo = def.Tempo
	}
	switch tempo {
	case types.TempoSurge:
		hours := def.SurgeHours
		if len(hours) == 0 {
			hours = []int{6, 14, 22}
		}
		mult := def.SurgeMultiplier
		if mult <= 0 {
			mult = 6
		}
		baseline := def.SurgeBaseline
		if def.SurgeMultiplier <= 0 {
			// Deferred-tempo scenarios keep casualties flowing between
			// surges.
			baseline = 0.3
		}
		return surgeShape(bins, hours, mult, baseline)
	case types.TempoEscalating:
		return rampShape(bins, 0.5, 1.5)
	case types.TempoDeclining:
		return rampShape(bins, 1.5, 0.5)
	case types.TempoIntermittent:
		return intermittentShape(bins, rng)
	default:
		return sustainedShape(bins)
	}
}

// sustainedShape is near-constant with a small diurnal oscillation
// peaking in the early afternoon.
func sustainedShape(bins int) []float64 {
	shape := make([]float64, bins)
	for i := range shape {
		hourOfDay := float64(i%(24*binsPerHour)) / binsPerHour
		shape[i] = 1.0 + 0.15*math.Sin(2*math.Pi*(hourOfDay-8)/24)
	}
	return shape
}

// surgeShape pins high intensity to the configured hours of day and
// the baseline elsewhere.
func surgeShape(bins int, surgeHours []int, mult, baseline float64) []float64 {
	inSurge := make(map[int]bool, len(surgeHours))
	for _, h := range surgeHours {
		inSurge[((h % 24) + 24) % 24] = true
	}
	shape := make([]float64, bins)
	for i := range shape {
		hourOfDay := (i / binsPerHour) % 24
		if inSurge[hourOfDay] {
			shape[i] = mult
		} else {
			shape[i] = baseline
		}
	}
	return shape
}

// rampShape interpolates linearly from start to end across the
// horizon.
func rampShape(bins int, start, end float64) []float64 {
	shape := make([]float64, bins)
	for i := range shape {
		frac := 0.0
		if bins > 1 {
			frac = float64(i) / float64(bins-1)
		}
		shape[i] = start + (end-start)*frac
	}
	return shape
}

// intermittentShape alternates zero-intensity gaps with bursts. Burst
// and gap lengths are drawn per job so two jobs with the same seed see
// the same pattern.
func intermittentShape(bins int, rng *rand.Rand) []float64 {
	shape := make([]float64, bins)
	i := 0
	for i < bins {
		gap := binsPerHour*2 + rng.Intn(binsPerHour*6) // 2h-8h quiet
		i += gap
		burst := binsPerHour/2 + rng.Intn(binsPerHour*2) // 30min-2.5h active
		for j := 0; j < burst && i < bins; j++ {
			shape[i] = 3.0
			i++
		}
	}
	return shape
}

// applyConditions multiplies the mixed shape by the environmental
// factors active on selected hour bands.
func applyConditions(shape []float64, conditions []string) {
	for _, cond := range conditions {
		switch cond {
		case types.CondNightOperations:
			scaleBand(shape, 22, 29, 1.35) // 22:00 through 05:00
		case types.CondAdverseWeather:
			for i := range shape {
				shape[i] *= 0.75
			}
		case types.CondExtremeHeat:
			scaleBand(shape, 11, 16, 0.85)
		case types.CondMountainousTerrain:
			for i := range shape {
				shape[i] *= 0.9
			}
		}
	}
}

// scaleBand multiplies bins whose hour of day falls in [fromHour,
// toHour); hours past 24 wrap to the next day.
func scaleBand(shape []float64, fromHour, toHour int, factor float64) {
	for i := range shape {
		hourOfDay := (i / binsPerHour) % 24
		h := hourOfDay
		if h < fromHour%24 && toHour > 24 {
			h += 24
		}
		if h >= fromHour && h < toHour {
			shape[i] *= factor
		}
	}
}
