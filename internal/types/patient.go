package types

import "time"

// InjuryCategory is the coarse classification of a casualty's condition.
type InjuryCategory string

const (
	InjuryBattle    InjuryCategory = "Battle Injury"
	InjuryNonBattle InjuryCategory = "Non-Battle Injury"
	InjuryDisease   InjuryCategory = "Disease"
)

// InjuryCategories returns the known categories in canonical order.
func InjuryCategories() []InjuryCategory {
	return []InjuryCategory{InjuryBattle, InjuryNonBattle, InjuryDisease}
}

// ValidInjuryCategory reports whether c is a known category.
func ValidInjuryCategory(c InjuryCategory) bool {
	return c == InjuryBattle || c == InjuryNonBattle || c == InjuryDisease
}

// FinalStatus is the terminal outcome of a patient.
type FinalStatus string

const (
	StatusKIA FinalStatus = "KIA"
	StatusRTD FinalStatus = "RTD"
	// StatusRemainsRole4 is retained for wire compatibility with older
	// consumers; the deterministic engine resolves Role4 stays to RTD.
	StatusRemainsRole4 FinalStatus = "Remains_Role4"
)

// EventType classifies a timeline event.
type EventType string

const (
	EventArrival         EventType = "arrival"
	EventEvacuationStart EventType = "evacuation_start"
	EventTransitStart    EventType = "transit_start"
	EventKIA             EventType = "kia"
	EventRTD             EventType = "rtd"
)

// TimelineEvent is a single entry in a patient's movement timeline.
// Timestamps within a timeline are non-decreasing and HoursSinceInjury
// tracks Timestamp minus the patient's injury timestamp.
type TimelineEvent struct {
	EventType               EventType `json:"event_type"`
	Facility                Facility  `json:"facility"`
	Timestamp               time.Time `json:"timestamp"`
	HoursSinceInjury        float64   `json:"hours_since_injury"`
	Triage                  Triage    `json:"triage,omitempty"`
	EvacuationDurationHours *float64  `json:"evacuation_duration_hours,omitempty"`
	TransitDurationHours    *float64  `json:"transit_duration_hours,omitempty"`
}

// Diagnosis is a coded condition drawn from the injury catalog.
type Diagnosis struct {
	Code     string         `json:"code"`
	Display  string         `json:"display"`
	Category InjuryCategory `json:"category"`
}

// AppliedTreatment records one intervention selected for a diagnosis at
// a facility, with the utility score it was ranked by.
type AppliedTreatment struct {
	Facility      Facility `json:"facility"`
	DiagnosisCode string   `json:"diagnosis_code"`
	Treatment     string   `json:"treatment"`
	Utility       float64  `json:"utility"`
}

// Patient is the immutable output value for one simulated casualty.
type Patient struct {
	ID              int                `json:"id"`
	EventID         string             `json:"event_id"`
	FrontID         string             `json:"front_id"`
	Nationality     string             `json:"nationality"`
	GivenName       string             `json:"given_name"`
	FamilyName      string             `json:"family_name"`
	Gender          string             `json:"gender"`
	Triage          Triage             `json:"triage"`
	InjuryType      InjuryCategory     `json:"injury_type"`
	Diagnoses       []Diagnosis        `json:"diagnoses"`
	Treatments      []AppliedTreatment `json:"treatments,omitempty"`
	InjuryTimestamp time.Time          `json:"injury_timestamp"`
	Timeline        []TimelineEvent    `json:"timeline"`
	FinalStatus     FinalStatus        `json:"final_status"`
	LastFacility    Facility           `json:"last_facility"`
	HoursToOutcome  float64            `json:"hours_to_outcome"`
}

// FacilitiesVisited lists the facilities with an arrival event, in
// timeline order.
func (p *Patient) FacilitiesVisited() []Facility {
	var out []Facility
	for _, ev := range p.Timeline {
		if ev.EventType == EventArrival {
			out = append(out, ev.Facility)
		}
	}
	return out
}
