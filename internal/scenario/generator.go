package scenario

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

const binDuration = time.Hour / binsPerHour

// Generator produces casualty event sequences from validated
// configurations. It is stateless and safe for concurrent use.
type Generator struct{}

// NewGenerator returns a Generator over the built-in scenario
// definitions.
func NewGenerator() *Generator {
	return &Generator{}
}

// binEvent is an event under construction, before ids are assigned.
type binEvent struct {
	bin     int
	ts      time.Time
	count   int
	warfare string
	special string
}

// Generate walks the horizon in 5-minute bins, samples casualty counts
// against the mixed scenario shape, groups consecutive positive bins
// into events, injects special events, and scales counts so the total
// equals cfg.TotalPatients exactly.
func (g *Generator) Generate(cfg *types.Configuration, seed int64) ([]types.CasualtyEvent, error) {
	if cfg.TotalPatients < 1 {
		return nil, fmt.Errorf("scenario: total_patients must be positive, got %d", cfg.TotalPatients)
	}
	start, _ := cfg.Horizon()
	bins := cfg.DaysOfFighting * 24 * binsPerHour
	rng := rand.New(rand.NewSource(seed))

	mixed, dominant := g.mixShapes(cfg, bins, rng)
	applyConditions(mixed, cfg.Environmental)

	shapeSum := 0.0
	for _, w := range mixed {
		shapeSum += w
	}
	if shapeSum <= 0 {
		for i := range mixed {
			mixed[i] = 1
		}
		shapeSum = float64(bins)
	}

	// The intensity multiplier shapes clustering only; the final sum is
	// forced to TotalPatients below.
	lambdaTotal := float64(cfg.TotalPatients) * cfg.Intensity.Multiplier()

	counts := make([]int, bins)
	for i := range counts {
		counts[i] = poisson(rng, lambdaTotal*mixed[i]/shapeSum)
	}

	regular := groupBins(counts, dominant, start)
	special := g.specialEvents(cfg, dominant, start, rng)

	regular, special = scaleToTotal(regular, special, cfg.TotalPatients, start)

	all := append(regular, special...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })

	events := make([]types.CasualtyEvent, len(all))
	for i, ev := range all {
		threshold := MassCasualtyThresholdFor(ev.warfare)
		events[i] = types.CasualtyEvent{
			ID:                   fmt.Sprintf("evt_%06d", i+1),
			Timestamp:            ev.ts,
			PatientCount:         ev.count,
			WarfareType:          ev.warfare,
			IsMassCasualty:       ev.count >= threshold || ev.special == types.SpecialMassCasualty,
			EnvironmentalFactors: activeConditions(cfg.Environmental, ev.bin),
			SpecialEventType:     ev.special,
		}
	}
	return events, nil
}

// mixShapes sums the active scenarios' shapes weighted by their
// relative activity and tracks the dominant contributor per bin. With
// no active scenarios the stream falls back to a uniform sustained
// distribution attributed to conventional fighting.
func (g *Generator) mixShapes(cfg *types.Configuration, bins int, rng *rand.Rand) ([]float64, []string) {
	active := cfg.ActiveScenarios()
	mixed := make([]float64, bins)
	dominant := make([]string, bins)

	if len(active) == 0 {
		shape := sustainedShape(bins)
		for i := range mixed {
			mixed[i] = shape[i]
			dominant[i] = "conventional"
		}
		return mixed, dominant
	}

	strongest := make([]float64, bins)
	for _, id := range active {
		def, ok := Lookup(id)
		if !ok {
			continue
		}
		shape := shapeFor(def, cfg.Tempo, bins, rng)
		for i := range shape {
			contrib := shape[i] * def.Weight
			mixed[i] += contrib
			if contrib > strongest[i] {
				strongest[i] = contrib
				dominant[i] = id
			}
		}
	}
	for i := range dominant {
		if dominant[i] == "" {
			dominant[i] = active[0]
		}
	}
	return mixed, dominant
}

// groupBins merges consecutive positive bins into single events. A
// group never spans a midnight boundary.
func groupBins(counts []int, dominant []string, start time.Time) []binEvent {
	var events []binEvent
	binsPerDay := 24 * binsPerHour
	i := 0
	for i < len(counts) {
		if counts[i] == 0 {
			i++
			continue
		}
		day := i / binsPerDay
		ev := binEvent{
			bin:     i,
			ts:      start.Add(time.Duration(i) * binDuration),
			warfare: dominant[i],
		}
		for i < len(counts) && counts[i] > 0 && i/binsPerDay == day {
			ev.count += counts[i]
			i++
		}
		events = append(events, ev)
	}
	return events
}

// specialEvents injects the configured discrete incidents at sampled
// timestamps inside the horizon.
func (g *Generator) specialEvents(cfg *types.Configuration, dominant []string, start time.Time, rng *rand.Rand) []binEvent {
	if len(cfg.SpecialEvents) == 0 {
		return nil
	}
	events := make([]binEvent, 0, len(cfg.SpecialEvents))
	for _, se := range cfg.SpecialEvents {
		day := rng.Intn(cfg.DaysOfFighting)
		if se.DayOffset != nil {
			day = *se.DayOffset
		}
		var hour int
		switch se.Type {
		case types.SpecialAmbush:
			// Ambushes cluster around dawn and dusk.
			if rng.Intn(2) == 0 {
				hour = 5 + rng.Intn(3)
			} else {
				hour = 18 + rng.Intn(3)
			}
		case types.SpecialMajorOffensive:
			hour = 4 + rng.Intn(4)
		default:
			hour = 6 + rng.Intn(14)
		}
		bin := (day*24+hour)*binsPerHour + rng.Intn(binsPerHour)
		if bin >= len(dominant) {
			bin = len(dominant) - 1
		}
		count := se.MinPatients
		if se.MaxPatients > se.MinPatients {
			count += rng.Intn(se.MaxPatients - se.MinPatients + 1)
		}
		events = append(events, binEvent{
			bin:     bin,
			ts:      start.Add(time.Duration(bin) * binDuration),
			count:   count,
			warfare: dominant[bin],
			special: se.Type,
		})
	}
	return events
}

// scaleToTotal forces the combined patient count to equal total.
// Special events keep their drawn counts when the budget allows;
// regular events are scaled uniformly with the integer remainder
// redistributed greedily to the largest events.
func scaleToTotal(regular, special []binEvent, total int, start time.Time) ([]binEvent, []binEvent) {
	specialSum := 0
	for _, ev := range special {
		specialSum += ev.count
	}
	if specialSum > total {
		special = shrinkTo(special, total)
		return nil, special
	}

	remaining := total - specialSum
	if remaining == 0 {
		return nil, special
	}
	if len(regular) == 0 {
		return []binEvent{{bin: 0, ts: start, count: remaining, warfare: fallbackWarfare(special)}}, special
	}

	// More events than patients: coalesce smallest-into-neighbor until
	// each surviving event can carry at least one patient.
	for len(regular) > remaining {
		regular = mergeSmallest(regular)
	}

	rawSum := 0
	for _, ev := range regular {
		rawSum += ev.count
	}
	if rawSum == 0 {
		regular[0].count = remaining
		return regular[:1], special
	}

	factor := float64(remaining) / float64(rawSum)
	scaledSum := 0
	for i := range regular {
		regular[i].count = int(math.Floor(float64(regular[i].count) * factor))
		scaledSum += regular[i].count
	}

	// Fractional parts sum to strictly less than len(regular), so every
	// remainder unit lands on a distinct event.
	order := make([]int, len(regular))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return regular[order[a]].count > regular[order[b]].count })
	for i := 0; i < remaining-scaledSum; i++ {
		regular[order[i]].count++
	}

	out := regular[:0]
	for _, ev := range regular {
		if ev.count > 0 {
			out = append(out, ev)
		}
	}
	return out, special
}

// shrinkTo scales special event counts proportionally down to budget,
// keeping every event at one patient minimum.
func shrinkTo(events []binEvent, budget int) []binEvent {
	if len(events) > budget {
		sort.SliceStable(events, func(i, j int) bool { return events[i].count > events[j].count })
		events = events[:budget]
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.Before(events[j].ts) })
	}
	sum := 0
	for _, ev := range events {
		sum += ev.count
	}
	factor := float64(budget) / float64(sum)
	total := 0
	for i := range events {
		c := int(math.Floor(float64(events[i].count) * factor))
		if c < 1 {
			c = 1
		}
		events[i].count = c
		total += c
	}
	// Trim or pad against rounding drift, largest events first.
	for total != budget {
		for i := range events {
			if total == budget {
				break
			}
			if total > budget && events[i].count > 1 {
				events[i].count--
				total--
			} else if total < budget {
				events[i].count++
				total++
			}
		}
	}
	return events
}

func mergeSmallest(events []binEvent) []binEvent {
	if len(events) <= 1 {
		return events
	}
	smallest := 0
	for i, ev := range events {
		if ev.count < events[smallest].count {
			smallest = i
		}
	}
	neighbor := smallest - 1
	if smallest == 0 {
		neighbor = 1
	}
	keep, drop := neighbor, smallest
	if events[drop].bin < events[keep].bin {
		keep, drop = drop, keep
	}
	events[keep].count += events[drop].count
	return append(events[:drop], events[drop+1:]...)
}

func fallbackWarfare(special []binEvent) string {
	if len(special) > 0 {
		return special[0].warfare
	}
	return "conventional"
}

// activeConditions lists the configured conditions whose hour band
// covers the bin.
func activeConditions(conditions []string, bin int) []string {
	if len(conditions) == 0 {
		return nil
	}
	hourOfDay := (bin / binsPerHour) % 24
	var out []string
	for _, cond := range conditions {
		switch cond {
		case types.CondNightOperations:
			if hourOfDay >= 22 || hourOfDay < 5 {
				out = append(out, cond)
			}
		case types.CondExtremeHeat:
			if hourOfDay >= 11 && hourOfDay < 16 {
				out = append(out, cond)
			}
		case types.CondAdverseWeather, types.CondMountainousTerrain:
			out = append(out, cond)
		}
	}
	return out
}
