package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/casgen-dev/casgen/internal/auth"
	"github.com/casgen-dev/casgen/internal/output"
	"github.com/casgen-dev/casgen/internal/stats"
	"github.com/casgen-dev/casgen/internal/types"
)

// statsCacheTTL bounds how long a computed statistics payload is served
// from cache. Completed jobs are immutable, so the TTL only limits
// memory, not staleness.
const statsCacheTTL = 10 * time.Minute

func (s *Server) handleEvacuationTimes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}
	if s.evac == nil {
		s.writeError(w, http.StatusServiceUnavailable, ErrorBody{
			Code:    codeStorageError,
			Message: "evacuation configuration not loaded",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, &EvacuationTimesResponse{Evacuation: s.evac.Config()})
}

func (s *Server) handlePatientTimeline(w http.ResponseWriter, r *http.Request, jobID, patientID string) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	pid, err := strconv.Atoi(patientID)
	if err != nil || pid < 1 {
		s.writeError(w, http.StatusUnprocessableEntity, ErrorBody{
			Code:    codeValidationError,
			Message: "patient id must be a positive integer",
			Details: map[string]any{"patient_id": patientID},
		})
		return
	}

	if _, ok := s.fetchCompletedJob(w, r, jobID); !ok {
		return
	}
	patients, ok := s.readPatients(w, jobID)
	if !ok {
		return
	}

	for i := range patients {
		if patients[i].ID != pid {
			continue
		}
		p := &patients[i]
		s.writeJSON(w, http.StatusOK, &PatientTimelineResponse{
			JobID:     jobID,
			PatientID: pid,
			Timeline:  p.Timeline,
			Summary: PatientTimelineSummary{
				Triage:            p.Triage,
				InjuryType:        p.InjuryType,
				FinalStatus:       p.FinalStatus,
				LastFacility:      p.LastFacility,
				HoursToOutcome:    p.HoursToOutcome,
				FacilitiesVisited: p.FacilitiesVisited(),
				TimelineEvents:    len(p.Timeline),
			},
		})
		return
	}

	s.writeError(w, http.StatusNotFound, ErrorBody{
		Code:    codeNotFound,
		Message: fmt.Sprintf("patient %d not found in job %s", pid, jobID),
	})
}

func (s *Server) handleJobStatistics(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	job, ok := s.fetchCompletedJob(w, r, jobID)
	if !ok {
		return
	}

	// Ownership is checked above, so a cached payload is safe to serve.
	cacheKey := "timeline:stats:" + jobID
	if raw, ok := s.cache.Get(r.Context(), cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
		return
	}

	patients, ok := s.readPatients(w, jobID)
	if !ok {
		return
	}

	agg := stats.NewAggregator()
	for i := range patients {
		agg.Observe(&patients[i])
	}
	st := agg.Compute()
	// Casualty event counts are not reconstructible from the artifact;
	// the job summary carries them.
	if job.Summary != nil {
		st.CasualtyEvents = job.Summary.TotalEvents
		st.MassCasualtyEvents = job.Summary.MassCasualtyEvents
	}

	resp := &StatisticsResponse{JobID: jobID, Statistics: st}
	if raw, err := json.Marshal(resp); err == nil {
		s.cache.Set(r.Context(), cacheKey, raw, statsCacheTTL)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// fetchCompletedJob loads the job, enforcing tenant ownership and that
// artifacts exist to read. On failure the response is already written.
func (s *Server) fetchCompletedJob(w http.ResponseWriter, r *http.Request, jobID string) (*types.Job, bool) {
	key := auth.KeyFromContext(r.Context())
	job, err := s.manager.Get(r.Context(), key.ID, jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return nil, false
	}
	if job.Status != types.JobCompleted || job.Deleted {
		s.writeError(w, http.StatusNotFound, ErrorBody{
			Code:    codeNotFound,
			Message: "timeline data is available once the job completes",
			Details: map[string]any{"status": string(job.Status)},
		})
		return nil, false
	}
	return job, true
}

// readPatients decodes a completed job's patients.json. On failure the
// response is already written.
func (s *Server) readPatients(w http.ResponseWriter, jobID string) ([]types.Patient, bool) {
	f, _, err := s.outputs.Open(jobID, output.PatientsJSON)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, ErrorBody{
				Code:    codeNotFound,
				Message: "patient data is missing on disk",
			})
			return nil, false
		}
		s.writeError(w, http.StatusServiceUnavailable, ErrorBody{
			Code:    codeStorageError,
			Message: "open patient data: " + err.Error(),
		})
		return nil, false
	}
	defer f.Close()

	var patients []types.Patient
	if err := json.NewDecoder(f).Decode(&patients); err != nil {
		s.writeError(w, http.StatusInternalServerError, ErrorBody{
			Code:    codeGenerationError,
			Message: "decode patient data: " + err.Error(),
		})
		return nil, false
	}
	return patients, true
}
