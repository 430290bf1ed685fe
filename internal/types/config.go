package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Intensity scales the temporal clustering of casualty arrivals. It
// shapes the event distribution only; the final patient sum is always
// forced to the configured total.
type Intensity string

const (
	IntensityLow     Intensity = "low"
	IntensityMedium  Intensity = "medium"
	IntensityHigh    Intensity = "high"
	IntensityExtreme Intensity = "extreme"
)

// Multiplier returns the base-rate multiplier for the intensity level.
// Unknown values fall back to the medium multiplier.
func (i Intensity) Multiplier() float64 {
	switch i {
	case IntensityLow:
		return 0.7
	case IntensityHigh:
		return 1.5
	case IntensityExtreme:
		return 2.2
	default:
		return 1.0
	}
}

// ValidIntensity reports whether i is a known intensity level.
func ValidIntensity(i Intensity) bool {
	switch i {
	case IntensityLow, IntensityMedium, IntensityHigh, IntensityExtreme:
		return true
	}
	return false
}

// Tempo selects the time-shape family of the casualty stream.
type Tempo string

const (
	TempoSustained    Tempo = "sustained"
	TempoEscalating   Tempo = "escalating"
	TempoSurge        Tempo = "surge"
	TempoDeclining    Tempo = "declining"
	TempoIntermittent Tempo = "intermittent"
)

// ValidTempo reports whether t is a known tempo.
func ValidTempo(t Tempo) bool {
	switch t {
	case TempoSustained, TempoEscalating, TempoSurge, TempoDeclining, TempoIntermittent:
		return true
	}
	return false
}

// Environmental condition identifiers recognized by the generator.
const (
	CondNightOperations    = "night_operations"
	CondAdverseWeather     = "adverse_weather"
	CondExtremeHeat        = "extreme_heat"
	CondMountainousTerrain = "mountainous_terrain"
)

// KnownCondition reports whether id names a condition with a modeled
// modifier. Unknown conditions validate with a warning and carry no
// effect.
func KnownCondition(id string) bool {
	switch id {
	case CondNightOperations, CondAdverseWeather, CondExtremeHeat, CondMountainousTerrain:
		return true
	}
	return false
}

// Special event type identifiers.
const (
	SpecialMassCasualty   = "mass_casualty_incident"
	SpecialAmbush         = "ambush"
	SpecialMajorOffensive = "major_offensive"
)

// KnownSpecialEvent reports whether id names a supported special event.
func KnownSpecialEvent(id string) bool {
	switch id {
	case SpecialMassCasualty, SpecialAmbush, SpecialMajorOffensive:
		return true
	}
	return false
}

// Date is a calendar date that accepts both "2006-01-02" and RFC 3339
// forms on input and always serializes as "2006-01-02".
type Date struct {
	time.Time
}

// NewDate builds a Date at UTC midnight of the given day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Time.UTC().Format("2006-01-02") + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		d.Time = t.UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	d.Time = t.UTC()
	return nil
}

// FrontConfig describes one front line contributing casualties.
// CasualtyRate is a relative weight against the other fronts, not an
// absolute rate.
type FrontConfig struct {
	ID                      string             `json:"id"`
	Name                    string             `json:"name,omitempty"`
	CasualtyRate            float64            `json:"casualty_rate"`
	NationalityDistribution map[string]float64 `json:"nationality_distribution"`
}

// TimeRange bounds a duration draw in hours.
type TimeRange struct {
	MinHours float64 `json:"min_hours"`
	MaxHours float64 `json:"max_hours"`
}

// EvacuationConfig holds per-facility evacuation windows, per-route
// transit windows, and triage outcome-rate modifiers. Route keys are
// built with RouteKey.
type EvacuationConfig struct {
	EvacuationTimes map[Facility]map[Triage]TimeRange `json:"evacuation_times"`
	TransitTimes    map[string]map[Triage]TimeRange   `json:"transit_times"`
	KIAModifiers    map[Triage]float64                `json:"kia_rate_modifiers"`
	RTDModifiers    map[Triage]float64                `json:"rtd_rate_modifiers"`
}

// SpecialEventConfig requests a discrete casualty injection. The
// patient count is drawn uniformly from [MinPatients, MaxPatients].
// DayOffset, when set, pins the event to that zero-based day of the
// horizon; otherwise the day is sampled.
type SpecialEventConfig struct {
	Type        string `json:"type"`
	MinPatients int    `json:"min_patients"`
	MaxPatients int    `json:"max_patients"`
	DayOffset   *int   `json:"day_offset,omitempty"`
}

// Configuration is the validated, normalized description of one
// generation run. The HTTP boundary decodes into this shape; the
// validator fills defaults and canonicalizes weights before the engine
// sees it.
type Configuration struct {
	TotalPatients    int                        `json:"total_patients"`
	DaysOfFighting   int                        `json:"days_of_fighting"`
	BaseDate         Date                       `json:"base_date"`
	InjuryMix        map[InjuryCategory]float64 `json:"injury_mix"`
	Fronts           []FrontConfig              `json:"front_configs"`
	WarfareScenarios map[string]bool            `json:"warfare_scenarios"`
	Intensity        Intensity                  `json:"intensity"`
	Tempo            Tempo                      `json:"tempo"`
	Environmental    []string                   `json:"environmental_conditions,omitempty"`
	SpecialEvents    []SpecialEventConfig       `json:"special_events,omitempty"`
	Evacuation       *EvacuationConfig          `json:"evacuation_config,omitempty"`
	Seed             *int64                     `json:"seed,omitempty"`
}

// Horizon returns the inclusive start and exclusive end of the
// generation window.
func (c *Configuration) Horizon() (time.Time, time.Time) {
	start := c.BaseDate.Time.UTC()
	return start, start.Add(time.Duration(c.DaysOfFighting) * 24 * time.Hour)
}

// ActiveScenarios lists enabled warfare scenario ids in sorted order.
func (c *Configuration) ActiveScenarios() []string {
	var out []string
	for id, on := range c.WarfareScenarios {
		if on {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
