package types

import "time"

// CasualtyEvent is one timestamped batch of casualties produced by the
// temporal generator. Events within a scenario are ordered by
// timestamp and their patient counts sum to the configured total.
type CasualtyEvent struct {
	ID                   string    `json:"event_id"`
	Timestamp            time.Time `json:"timestamp"`
	PatientCount         int       `json:"patient_count"`
	WarfareType          string    `json:"warfare_type"`
	IsMassCasualty       bool      `json:"is_mass_casualty"`
	EnvironmentalFactors []string  `json:"environmental_factors,omitempty"`
	SpecialEventType     string    `json:"special_event_type,omitempty"`
}
