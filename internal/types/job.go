package types

import "time"

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// OutputFile describes one artifact produced by a completed job.
type OutputFile struct {
	Name        string `json:"name"`
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// JobError carries a failure recorded on a job, using the same code
// taxonomy as synchronous API errors.
type JobError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// JobSummary aggregates outcome counts for a completed job.
type JobSummary struct {
	TotalPatients      int                    `json:"total_patients"`
	TotalEvents        int                    `json:"total_events"`
	MassCasualtyEvents int                    `json:"mass_casualty_events"`
	KIA                int                    `json:"kia"`
	RTD                int                    `json:"rtd"`
	ByTriage           map[Triage]int         `json:"by_triage"`
	ByInjuryType       map[InjuryCategory]int `json:"by_injury_type"`
	ByLastFacility     map[Facility]int       `json:"by_last_facility"`
	GenerationSeconds  float64                `json:"generation_seconds"`
	PeakRSSBytes       uint64                 `json:"peak_rss_bytes,omitempty"`
}

// Job is the persisted record of one generation request. Records are
// mutated only by the owning worker and the cancellation path; the
// repository row is the source of truth.
type Job struct {
	ID                  string             `json:"id"`
	TenantKeyID         string             `json:"tenant_key_id"`
	Status              JobStatus          `json:"status"`
	Priority            Priority           `json:"priority"`
	Progress            int                `json:"progress"`
	PhaseDescription    string             `json:"phase_description"`
	Request             *GenerationRequest `json:"request"`
	OutputFiles         []OutputFile       `json:"output_files,omitempty"`
	Error               *JobError          `json:"error,omitempty"`
	Summary             *JobSummary        `json:"summary,omitempty"`
	Partial             bool               `json:"partial,omitempty"`
	Deleted             bool               `json:"deleted,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time         `json:"estimated_completion,omitempty"`
}

// Clone returns a deep-enough copy for handing records across
// goroutine boundaries. Request and summary payloads are shared;
// callers treat them as read-only.
func (j *Job) Clone() *Job {
	cp := *j
	if j.OutputFiles != nil {
		cp.OutputFiles = make([]OutputFile, len(j.OutputFiles))
		copy(cp.OutputFiles, j.OutputFiles)
	}
	return &cp
}
