package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/casgen-dev/casgen/internal/auth"
	"github.com/casgen-dev/casgen/internal/jobs"
	"github.com/casgen-dev/casgen/internal/output"
	"github.com/casgen-dev/casgen/internal/types"
	"github.com/casgen-dev/casgen/internal/version"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	healthCheckTimeout = 5 * time.Second
)

// maxRequestBodySize caps request bodies (10MB).
const maxRequestBodySize = 10 * 1024 * 1024

// limitedBody wraps the body so oversized payloads fail the decode
// instead of exhausting memory.
func limitedBody(w http.ResponseWriter, r *http.Request) io.Reader {
	return http.MaxBytesReader(w, r.Body, maxRequestBodySize)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}

	rawKey := auth.ExtractKey(r)
	if rawKey == "" {
		s.writeServiceError(w, auth.ErrMissingKey)
		return
	}

	var req types.GenerationRequest
	if err := json.NewDecoder(limitedBody(w, r)).Decode(&req); err != nil {
		s.writeParseError(w, err)
		return
	}

	// The inline patient count feeds the per-request quota check.
	// Template references resolve during validation and carry no count
	// at admission time.
	patientCount := 0
	if req.Configuration != nil {
		patientCount = req.Configuration.TotalPatients
	}

	key, err := s.auth.Admit(r.Context(), rawKey, patientCount)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	job, err := s.manager.Submit(r.Context(), key.ID, &req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	estimate := 0
	if patientCount > 0 {
		estimate = jobs.EstimateDuration(patientCount)
	}
	s.writeJSON(w, http.StatusCreated, &SubmitResponse{
		JobID:                    job.ID,
		Status:                   string(job.Status),
		Message:                  "generation job accepted",
		EstimatedDurationSeconds: estimate,
		Links: JobLinks{
			Self:     apiPrefix + "/jobs/" + job.ID,
			Status:   apiPrefix + "/jobs/" + job.ID,
			Download: apiPrefix + "/downloads/" + job.ID,
		},
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}

	if _, err := s.auth.Admit(r.Context(), auth.ExtractKey(r), 0); err != nil {
		s.writeServiceError(w, err)
		return
	}

	var req types.GenerationRequest
	if err := json.NewDecoder(limitedBody(w, r)).Decode(&req); err != nil {
		s.writeParseError(w, err)
		return
	}

	_, report := s.manager.Validate(&req)
	s.writeJSON(w, http.StatusOK, &ValidateResponse{
		Valid:    report.OK,
		Errors:   report.Errors,
		Warnings: report.Warnings,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	key := auth.KeyFromContext(r.Context())
	job, err := s.manager.Get(r.Context(), key.ID, jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, redactJob(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	key := auth.KeyFromContext(r.Context())
	list, total, err := s.manager.List(r.Context(), key.ID, limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := make([]*types.Job, len(list))
	for i, job := range list {
		out[i] = redactJob(job)
	}
	s.writeJSON(w, http.StatusOK, &ListJobsResponse{
		Jobs:   out,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}

	key := auth.KeyFromContext(r.Context())
	job, err := s.manager.Cancel(r.Context(), key.ID, jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	msg := "cancellation requested; the worker stops at its next checkpoint"
	if job.Status == types.JobCancelled {
		msg = "job cancelled"
	}
	s.writeJSON(w, http.StatusAccepted, &CancelResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: msg,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, jobID, filename string) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	key := auth.KeyFromContext(r.Context())
	job, err := s.manager.Get(r.Context(), key.ID, jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if job.Status != types.JobCompleted || job.Deleted {
		s.writeError(w, http.StatusNotFound, ErrorBody{
			Code:    codeNotFound,
			Message: "job has no downloadable artifacts",
			Details: map[string]any{"status": string(job.Status)},
		})
		return
	}

	if filename == "" {
		filename = defaultArtifact(job)
	}
	// The job record is authoritative for filenames; disk presence is
	// checked at stream start.
	if !artifactOnRecord(job, filename) {
		s.writeError(w, http.StatusNotFound, ErrorBody{
			Code:    codeNotFound,
			Message: fmt.Sprintf("artifact %q is not on the job record", filename),
		})
		return
	}

	f, info, err := s.outputs.Open(jobID, filename)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, ErrorBody{
				Code:    codeNotFound,
				Message: fmt.Sprintf("artifact %q is missing on disk", filename),
			})
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, ErrorBody{
			Code:    codeStorageError,
			Message: "open artifact: " + err.Error(),
		})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeOnRecord(job, filename))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			checks["store"] = "unreachable"
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not_configured"
	}
	checks["cache"] = s.probeCache(ctx)

	s.writeJSON(w, code, &HealthResponse{
		Status:  status,
		Version: version.String(),
		Time:    time.Now().UTC(),
		Checks:  checks,
		Process: processStats(),
	})
}

// probeCache round-trips a sentinel through the cache. The cache
// contract hides failures, so a miss right after a set is the only
// available signal.
func (s *Server) probeCache(ctx context.Context) string {
	s.cache.Set(ctx, "health:probe", []byte("ok"), time.Minute)
	if _, ok := s.cache.Get(ctx, "health:probe"); !ok {
		return "miss"
	}
	return "ok"
}

// processStats reads the serving process's memory and CPU usage.
func processStats() ProcessStats {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}
	}
	var out ProcessStats
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		out.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		out.CPUPercent = cpu
	}
	return out
}

// redactJob strips the encryption secret from an outbound projection.
// The password is write-only: it feeds the bundle KDF and never goes
// back to a client.
func redactJob(job *types.Job) *types.Job {
	if job.Request == nil || job.Request.EncryptionPassword == "" {
		return job
	}
	cp := job.Clone()
	req := *cp.Request
	req.EncryptionPassword = ""
	cp.Request = &req
	return cp
}

// defaultArtifact picks the encrypted bundle when the job produced one,
// else the patients.json everybody gets.
func defaultArtifact(job *types.Job) string {
	bundle := output.BundleName(job.ID)
	for _, f := range job.OutputFiles {
		if f.Name == bundle {
			return f.Name
		}
	}
	return output.PatientsJSON
}

func artifactOnRecord(job *types.Job, filename string) bool {
	for _, f := range job.OutputFiles {
		if f.Name == filename {
			return true
		}
	}
	return false
}

func contentTypeOnRecord(job *types.Job, filename string) string {
	for _, f := range job.OutputFiles {
		if f.Name == filename && f.ContentType != "" {
			return f.ContentType
		}
	}
	return output.ContentTypeFor(filename)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, body ErrorBody) {
	s.writeJSON(w, status, &ErrorEnvelope{Error: body})
}
