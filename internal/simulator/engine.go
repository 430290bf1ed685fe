// Package simulator advances casualties through the evacuation chain. Each
// patient is generated from an independent seeded stream, so a run is
// reproducible for a given configuration no matter how work is batched.
package simulator

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/casgen-dev/casgen/internal/catalog"
	"github.com/casgen-dev/casgen/internal/evac"
	"github.com/casgen-dev/casgen/internal/medical"
	"github.com/casgen-dev/casgen/internal/scenario"
	"github.com/casgen-dev/casgen/internal/types"
)

// injuryJitter spreads patients of one event across its five-minute bin.
const injuryJitter = 5 * time.Minute

// secondaryDiagnosisP is the chance a casualty carries a second coded
// condition from the same category.
const secondaryDiagnosisP = 0.25

// mountainTransitFactor stretches transit draws in mountainous terrain.
const mountainTransitFactor = 1.25

// Engine binds the reference data a run needs. It is stateless and safe to
// share across concurrent runs.
type Engine struct {
	catalog  *catalog.Catalog
	evac     *evac.Manager
	selector *medical.Selector
}

// New builds an engine over loaded reference data.
func New(cat *catalog.Catalog, ev *evac.Manager, sel *medical.Selector) *Engine {
	return &Engine{catalog: cat, evac: ev, selector: sel}
}

type weightedEntry struct {
	key    string
	weight float64
}

type weightedTable struct {
	entries []weightedEntry
	total   float64
}

func (t weightedTable) draw(rng *rand.Rand) string {
	u := rng.Float64() * t.total
	acc := 0.0
	for _, e := range t.entries {
		acc += e.weight
		if u < acc {
			return e.key
		}
	}
	return t.entries[len(t.entries)-1].key
}

// Run is a cursor over one job's patients in id order. It is not safe for
// concurrent use; the job controller drives one run per worker goroutine.
type Run struct {
	engine *Engine
	cfg    *types.Configuration
	events []types.CasualtyEvent
	evac   *evac.Manager
	seed   int64
	logger *slog.Logger

	fronts        weightedTable
	nationalities map[string]weightedTable
	mix           weightedTable
	triage        map[types.InjuryCategory]weightedTable
	bypassP       float64
	mountainous   bool

	ends  []int
	total int
	next  int

	keywordLogged map[string]bool
}

// NewRun prepares a deterministic cursor for one generation. The evacuation
// manager defaults to the engine's bundled one; a run whose configuration
// carries its own tables gets a dedicated manager from the caller.
func (e *Engine) NewRun(cfg *types.Configuration, events []types.CasualtyEvent, ev *evac.Manager, seed int64, logger *slog.Logger) *Run {
	if ev == nil {
		ev = e.evac
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Run{
		engine:        e,
		cfg:           cfg,
		events:        events,
		evac:          ev,
		seed:          seed,
		logger:        logger,
		nationalities: make(map[string]weightedTable, len(cfg.Fronts)),
		triage:        make(map[types.InjuryCategory]weightedTable),
		keywordLogged: make(map[string]bool),
	}

	for _, f := range cfg.Fronts {
		r.fronts.entries = append(r.fronts.entries, weightedEntry{key: f.ID, weight: f.CasualtyRate})
		r.fronts.total += f.CasualtyRate
		nats := make([]string, 0, len(f.NationalityDistribution))
		for n := range f.NationalityDistribution {
			nats = append(nats, n)
		}
		sort.Strings(nats)
		var tbl weightedTable
		for _, n := range nats {
			w := f.NationalityDistribution[n]
			tbl.entries = append(tbl.entries, weightedEntry{key: n, weight: w})
			tbl.total += w
		}
		r.nationalities[f.ID] = tbl
	}

	for _, cat := range types.InjuryCategories() {
		if w := cfg.InjuryMix[cat]; w > 0 {
			r.mix.entries = append(r.mix.entries, weightedEntry{key: string(cat), weight: w})
			r.mix.total += w
		}
	}

	active := cfg.ActiveScenarios()
	for _, cat := range types.InjuryCategories() {
		weights := scenario.TriageWeightsFor(cat, active)
		var tbl weightedTable
		for _, t := range types.TriageClasses() {
			tbl.entries = append(tbl.entries, weightedEntry{key: string(t), weight: weights[t]})
			tbl.total += weights[t]
		}
		r.triage[cat] = tbl
	}
	r.bypassP = scenario.BypassProbabilityFor(active)
	for _, cond := range cfg.Environmental {
		if cond == types.CondMountainousTerrain {
			r.mountainous = true
		}
	}

	r.ends = make([]int, len(events))
	sum := 0
	for i, ev := range events {
		sum += ev.PatientCount
		r.ends[i] = sum
	}
	r.total = sum
	return r
}

// Total is the number of patients the run will produce.
func (r *Run) Total() int { return r.total }

// More reports whether Next will produce another patient.
func (r *Run) More() bool { return r.next < r.total }

// Next generates the next patient in id order.
func (r *Run) Next() (*types.Patient, error) {
	if r.next >= r.total {
		return nil, fmt.Errorf("run exhausted after %d patients", r.total)
	}
	ordinal := r.next
	r.next++
	return r.generate(ordinal)
}

// generate produces patient ordinal+1 from its own seeded stream. The draw
// order is fixed: jitter, front, nationality, identity, category, diagnoses,
// triage, then the facility walk. Reordering draws breaks reproducibility
// across releases.
func (r *Run) generate(ordinal int) (*types.Patient, error) {
	event := r.events[sort.SearchInts(r.ends, ordinal+1)]
	id := ordinal + 1
	rng := rand.New(rand.NewSource(patientSeed(r.seed, id)))

	b := newBuilder(id, event)
	b.p.InjuryTimestamp = event.Timestamp.Add(time.Duration(rng.Float64() * float64(injuryJitter)))
	b.p.FrontID = r.fronts.draw(rng)
	b.p.Nationality = r.nationalities[b.p.FrontID].draw(rng)
	identity := r.engine.catalog.SampleIdentity(b.p.Nationality, rng)
	b.p.GivenName = identity.GivenName
	b.p.FamilyName = identity.FamilyName
	b.p.Gender = identity.Gender
	b.p.InjuryType = types.InjuryCategory(r.mix.draw(rng))

	b.p.Diagnoses = []types.Diagnosis{r.engine.catalog.SampleInjury(b.p.InjuryType, rng)}
	if rng.Float64() < secondaryDiagnosisP {
		if d := r.engine.catalog.SampleInjury(b.p.InjuryType, rng); d.Code != b.p.Diagnoses[0].Code {
			b.p.Diagnoses = append(b.p.Diagnoses, d)
		}
	}
	b.p.Triage = types.Triage(r.triage[b.p.InjuryType].draw(rng))

	if err := r.walkChain(b, rng); err != nil {
		return nil, fmt.Errorf("patient %d: %w", id, err)
	}
	return b.freeze(), nil
}

// walkChain runs the facility state machine until a terminal outcome.
func (r *Run) walkChain(b *builder, rng *rand.Rand) error {
	t := b.p.InjuryTimestamp
	f := types.FacilityPOI
	kiaMod := r.evac.KIAModifier(b.p.Triage)
	rtdMod := r.evac.RTDModifier(b.p.Triage)

	for {
		b.appendEvent(types.TimelineEvent{
			EventType: types.EventArrival,
			Facility:  f,
			Timestamp: t,
		})
		r.applyTreatments(b, f, t)

		evacHours := r.evac.EvacuationHours(f, b.p.Triage, rng)

		// The stay begins as soon as the casualty is admitted; outcome draws
		// resolve during it. Emitting the stay first keeps every terminal
		// event preceded by evacuation_start at the same facility.
		b.appendEvent(types.TimelineEvent{
			EventType:               types.EventEvacuationStart,
			Facility:                f,
			Timestamp:               t,
			Triage:                  b.p.Triage,
			EvacuationDurationHours: &evacHours,
		})

		if rng.Float64() < kiaProbability(f, b.p.InjuryType, kiaMod) {
			at := t.Add(evac.HoursToDuration(rng.Float64() * evacHours))
			b.terminate(types.EventKIA, f, at, types.StatusKIA)
			return nil
		}
		if f != types.FacilityRole4 && b.p.Triage != types.TriageT1 {
			if rng.Float64() < rtdProbability(f, b.p.InjuryType, rtdMod) {
				at := t.Add(evac.HoursToDuration(rng.Float64() * evacHours))
				b.terminate(types.EventRTD, f, at, types.StatusRTD)
				return nil
			}
		}

		departAt := t.Add(evac.HoursToDuration(evacHours))
		if f == types.FacilityRole4 {
			b.terminate(types.EventRTD, f, departAt, types.StatusRTD)
			return nil
		}

		next := r.nextFacility(f, rng)
		transitHours, err := r.evac.TransitHours(f, next, b.p.Triage, rng)
		if err != nil {
			return err
		}
		if r.mountainous {
			transitHours *= mountainTransitFactor
		}

		if rng.Float64() < transitKIAProbability(f, b.p.InjuryType, kiaMod) {
			at := departAt.Add(evac.HoursToDuration(rng.Float64() * transitHours))
			b.terminate(types.EventKIA, f, at, types.StatusKIA)
			return nil
		}

		b.appendEvent(types.TimelineEvent{
			EventType:            types.EventTransitStart,
			Facility:             f,
			Timestamp:            departAt,
			TransitDurationHours: &transitHours,
		})
		t = departAt.Add(evac.HoursToDuration(transitHours))
		f = next
	}
}

// nextFacility advances along the chain, with a small chance of bypassing
// Role1 for casualties at the point of injury. The bypass only applies when
// the active evacuation config actually carries the direct route.
func (r *Run) nextFacility(f types.Facility, rng *rand.Rand) types.Facility {
	next, _ := types.NextFacility(f)
	if f == types.FacilityPOI && r.bypassP > 0 && r.evac.HasRoute(types.FacilityPOI, types.FacilityRole2) {
		if rng.Float64() < r.bypassP {
			return types.FacilityRole2
		}
	}
	return next
}

func (r *Run) applyTreatments(b *builder, f types.Facility, at time.Time) {
	hours := at.Sub(b.p.InjuryTimestamp).Hours()
	for _, d := range b.p.Diagnoses {
		applied, res := r.engine.selector.Select(d, f, b.p.Triage, hours)
		b.appendTreatments(applied)
		if res.ViaKeyword && !r.keywordLogged[d.Code] {
			r.keywordLogged[d.Code] = true
			r.logger.Warn("diagnosis resolved by keyword match",
				"diagnosis_code", d.Code,
				"keyword", res.Keyword,
				"protocol", res.Protocol)
		}
	}
}
