// Package stats aggregates outcome counts and timing distributions across a
// generated cohort for the timeline statistics API.
package stats

import (
	"sort"
	"sync"

	"github.com/casgen-dev/casgen/internal/types"
)

// DurationStats summarizes one timing distribution in hours.
type DurationStats struct {
	Count       int     `json:"count"`
	MeanHours   float64 `json:"mean_hours"`
	MedianHours float64 `json:"median_hours"`
	MaxHours    float64 `json:"max_hours"`
}

// Statistics is the aggregated payload served for a completed job.
type Statistics struct {
	TotalPatients       int                      `json:"total_patients"`
	TotalTimelineEvents int                      `json:"total_timeline_events"`
	CasualtyEvents      int                      `json:"casualty_events"`
	MassCasualtyEvents  int                      `json:"mass_casualty_events"`
	ByFinalStatus       map[string]int           `json:"by_final_status"`
	ByTriage            map[string]int           `json:"by_triage"`
	ByInjuryType        map[string]int           `json:"by_injury_type"`
	ByLastFacility      map[string]int           `json:"by_last_facility"`
	FacilityArrivals    map[string]int           `json:"facility_arrivals"`
	HoursToOutcome      DurationStats            `json:"hours_to_outcome"`
	EvacuationByLevel   map[string]DurationStats `json:"evacuation_by_facility"`
	TransitByRoute      map[string]DurationStats `json:"transit_by_route"`
}

// Aggregator ingests patients as the simulator produces them and computes
// the statistics payload once at finalization. Safe for concurrent
// ingestion.
type Aggregator struct {
	mu sync.Mutex

	totalPatients  int
	timelineEvents int
	casualtyEvents int
	massCasualty   int

	byStatus       map[types.FinalStatus]int
	byTriage       map[types.Triage]int
	byInjury       map[types.InjuryCategory]int
	byLastFacility map[types.Facility]int
	arrivals       map[types.Facility]int

	outcomeHours []float64
	evacHours    map[types.Facility][]float64
	transitHours map[string][]float64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		byStatus:       make(map[types.FinalStatus]int),
		byTriage:       make(map[types.Triage]int),
		byInjury:       make(map[types.InjuryCategory]int),
		byLastFacility: make(map[types.Facility]int),
		arrivals:       make(map[types.Facility]int),
		evacHours:      make(map[types.Facility][]float64),
		transitHours:   make(map[string][]float64),
	}
}

// ObserveEvents records the casualty event counts for the run.
func (a *Aggregator) ObserveEvents(events []types.CasualtyEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.casualtyEvents += len(events)
	for _, ev := range events {
		if ev.IsMassCasualty {
			a.massCasualty++
		}
	}
}

// Observe folds one completed patient into the aggregate.
func (a *Aggregator) Observe(p *types.Patient) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalPatients++
	a.timelineEvents += len(p.Timeline)
	a.byStatus[p.FinalStatus]++
	a.byTriage[p.Triage]++
	a.byInjury[p.InjuryType]++
	a.byLastFacility[p.LastFacility]++
	a.outcomeHours = append(a.outcomeHours, p.HoursToOutcome)

	for i, ev := range p.Timeline {
		switch ev.EventType {
		case types.EventArrival:
			a.arrivals[ev.Facility]++
		case types.EventEvacuationStart:
			if ev.EvacuationDurationHours != nil {
				a.evacHours[ev.Facility] = append(a.evacHours[ev.Facility], *ev.EvacuationDurationHours)
			}
		case types.EventTransitStart:
			if ev.TransitDurationHours != nil {
				key := types.RouteKey(ev.Facility, arrivalAfter(p.Timeline, i, ev.Facility))
				a.transitHours[key] = append(a.transitHours[key], *ev.TransitDurationHours)
			}
		}
	}
}

// arrivalAfter finds the facility reached after a transit event; bypass
// routes are attributed by the actual destination, not the chain successor.
func arrivalAfter(timeline []types.TimelineEvent, idx int, from types.Facility) types.Facility {
	for _, ev := range timeline[idx+1:] {
		if ev.EventType == types.EventArrival {
			return ev.Facility
		}
	}
	next, _ := types.NextFacility(from)
	return next
}

// Compute produces the final payload. The aggregator can keep ingesting
// afterwards; Compute works on a snapshot.
func (a *Aggregator) Compute() *Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &Statistics{
		TotalPatients:       a.totalPatients,
		TotalTimelineEvents: a.timelineEvents,
		CasualtyEvents:      a.casualtyEvents,
		MassCasualtyEvents:  a.massCasualty,
		ByFinalStatus:       make(map[string]int, len(a.byStatus)),
		ByTriage:            make(map[string]int, len(a.byTriage)),
		ByInjuryType:        make(map[string]int, len(a.byInjury)),
		ByLastFacility:      make(map[string]int, len(a.byLastFacility)),
		FacilityArrivals:    make(map[string]int, len(a.arrivals)),
		HoursToOutcome:      computeDurationStats(a.outcomeHours),
		EvacuationByLevel:   make(map[string]DurationStats, len(a.evacHours)),
		TransitByRoute:      make(map[string]DurationStats, len(a.transitHours)),
	}
	for k, v := range a.byStatus {
		s.ByFinalStatus[string(k)] = v
	}
	for k, v := range a.byTriage {
		s.ByTriage[string(k)] = v
	}
	for k, v := range a.byInjury {
		s.ByInjuryType[string(k)] = v
	}
	for k, v := range a.byLastFacility {
		s.ByLastFacility[string(k)] = v
	}
	for k, v := range a.arrivals {
		s.FacilityArrivals[string(k)] = v
	}
	for f, hours := range a.evacHours {
		s.EvacuationByLevel[string(f)] = computeDurationStats(hours)
	}
	for route, hours := range a.transitHours {
		s.TransitByRoute[route] = computeDurationStats(hours)
	}
	return s
}

// Summary condenses the aggregate into the job record's summary block.
func (a *Aggregator) Summary() types.JobSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	sum := types.JobSummary{
		TotalPatients:      a.totalPatients,
		TotalEvents:        a.casualtyEvents,
		MassCasualtyEvents: a.massCasualty,
		KIA:                a.byStatus[types.StatusKIA],
		RTD:                a.byStatus[types.StatusRTD],
		ByTriage:           make(map[types.Triage]int, len(a.byTriage)),
		ByInjuryType:       make(map[types.InjuryCategory]int, len(a.byInjury)),
		ByLastFacility:     make(map[types.Facility]int, len(a.byLastFacility)),
	}
	for k, v := range a.byTriage {
		sum.ByTriage[k] = v
	}
	for k, v := range a.byInjury {
		sum.ByInjuryType[k] = v
	}
	for k, v := range a.byLastFacility {
		sum.ByLastFacility[k] = v
	}
	return sum
}

// computeDurationStats sorts a copy; the aggregator's slices stay in
// ingestion order.
func computeDurationStats(hours []float64) DurationStats {
	if len(hours) == 0 {
		return DurationStats{}
	}
	sorted := make([]float64, len(hours))
	copy(sorted, hours)
	sort.Float64s(sorted)

	total := 0.0
	for _, h := range sorted {
		total += h
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return DurationStats{
		Count:       n,
		MeanHours:   total / float64(n),
		MedianHours: median,
		MaxHours:    sorted[n-1],
	}
}
