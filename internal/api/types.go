package api

import (
	"time"

	"github.com/casgen-dev/casgen/internal/stats"
	"github.com/casgen-dev/casgen/internal/types"
	"github.com/casgen-dev/casgen/internal/validation"
)

// JobLinks points a client at the follow-up endpoints for a submission.
type JobLinks struct {
	Self     string `json:"self"`
	Status   string `json:"status"`
	Download string `json:"download"`
}

// SubmitResponse is the 201 body for an accepted generation job.
type SubmitResponse struct {
	JobID                    string   `json:"job_id"`
	Status                   string   `json:"status"`
	Message                  string   `json:"message"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds,omitempty"`
	Links                    JobLinks `json:"links"`
}

// ValidateResponse reports a dry-run validation without creating a job.
type ValidateResponse struct {
	Valid    bool                         `json:"valid"`
	Errors   []validation.ValidationIssue `json:"errors"`
	Warnings []validation.ValidationIssue `json:"warnings"`
}

// ListJobsResponse pages through a tenant's jobs newest first. Total is
// the number of records matching before pagination.
type ListJobsResponse struct {
	Jobs   []*types.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// CancelResponse acknowledges a cancellation request. For running jobs
// the status still reads running until the worker observes the flag.
type CancelResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PatientTimelineResponse serves one patient's movement history.
type PatientTimelineResponse struct {
	JobID     string                 `json:"job_id"`
	PatientID int                    `json:"patient_id"`
	Timeline  []types.TimelineEvent  `json:"timeline"`
	Summary   PatientTimelineSummary `json:"summary"`
}

// PatientTimelineSummary condenses a timeline for quick display.
type PatientTimelineSummary struct {
	Triage            types.Triage         `json:"triage"`
	InjuryType        types.InjuryCategory `json:"injury_type"`
	FinalStatus       types.FinalStatus    `json:"final_status"`
	LastFacility      types.Facility       `json:"last_facility"`
	HoursToOutcome    float64              `json:"hours_to_outcome"`
	FacilitiesVisited []types.Facility     `json:"facilities_visited"`
	TimelineEvents    int                  `json:"timeline_events"`
}

// StatisticsResponse wraps the aggregate payload for a completed job.
type StatisticsResponse struct {
	JobID      string            `json:"job_id"`
	Statistics *stats.Statistics `json:"statistics"`
}

// EvacuationTimesResponse serves the active evacuation timing table.
type EvacuationTimesResponse struct {
	Evacuation *types.EvacuationConfig `json:"evacuation"`
}

// ProcessStats reports the serving process's resource usage.
type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Time    time.Time         `json:"time"`
	Checks  map[string]string `json:"checks"`
	Process ProcessStats      `json:"process"`
}

// ErrorBody is the error payload shared by every failure response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope wraps ErrorBody in the {"error": ...} shape.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
