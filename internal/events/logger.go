// Package events provides structured logging for job lifecycle events.
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// JobLogger provides structured logging for key events in a generation
// job's lifetime. Every record carries job_id and worker_id base
// attributes so one job's records can be grepped out of mixed output.
type JobLogger struct {
	logger   *slog.Logger
	jobID    string
	workerID string
}

// NewJobLogger creates a new JobLogger with JSON output to stdout.
func NewJobLogger(jobID, workerID string) *JobLogger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return newJobLogger(handler, jobID, workerID)
}

// NewJobLoggerWithWriter creates a new JobLogger with JSON output to a
// custom writer. Useful for testing or redirecting output.
func NewJobLoggerWithWriter(jobID, workerID string, w io.Writer) *JobLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return newJobLogger(handler, jobID, workerID)
}

func newJobLogger(handler slog.Handler, jobID, workerID string) *JobLogger {
	logger := slog.New(handler).With(
		"job_id", jobID,
		"worker_id", workerID,
	)
	return &JobLogger{
		logger:   logger,
		jobID:    jobID,
		workerID: workerID,
	}
}

// Slog exposes the underlying logger for components that take a plain
// *slog.Logger, keeping the base attributes.
func (jl *JobLogger) Slog() *slog.Logger {
	return jl.logger
}

// LogSubmitted logs acceptance of a new job.
// event: "job_submitted"
// Attributes: tenant_key_id, priority, total_patients
func (jl *JobLogger) LogSubmitted(tenantKeyID, priority string, totalPatients int) {
	jl.logger.Info("job_submitted",
		"tenant_key_id", tenantKeyID,
		"priority", priority,
		"total_patients", totalPatients,
	)
}

// LogStateTransition logs a job status change.
// event: "state_transition"
// Attributes: from, to, reason
func (jl *JobLogger) LogStateTransition(from, to, reason string) {
	jl.logger.Info("state_transition",
		"from", from,
		"to", to,
		"reason", reason,
	)
}

// LogProgress logs a progress milestone.
// event: "progress"
// Attributes: progress, phase
func (jl *JobLogger) LogProgress(progress int, phase string) {
	jl.logger.Info("progress",
		"progress", progress,
		"phase", phase,
	)
}

// LogEventsGenerated logs completion of the temporal generation phase.
// event: "events_generated"
// Attributes: event_count, mass_casualty_count
func (jl *JobLogger) LogEventsGenerated(eventCount, massCasualtyCount int) {
	jl.logger.Info("events_generated",
		"event_count", eventCount,
		"mass_casualty_count", massCasualtyCount,
	)
}

// LogArtifact logs a written output file.
// event: "artifact_written"
// Attributes: name, format, size_bytes
func (jl *JobLogger) LogArtifact(name, format string, sizeBytes int64) {
	jl.logger.Info("artifact_written",
		"name", name,
		"format", format,
		"size_bytes", sizeBytes,
	)
}

// LogFailure logs a job failure with its error code.
// event: "job_failed"
// Attributes: code, error
func (jl *JobLogger) LogFailure(code, message string) {
	jl.logger.Error("job_failed",
		"code", code,
		"error", message,
	)
}

// LogTimeout logs expiry of the per-job soft deadline.
// event: "job_timeout"
// Attributes: timeout_seconds, patients_done
func (jl *JobLogger) LogTimeout(timeoutSeconds float64, patientsDone int) {
	jl.logger.Warn("job_timeout",
		"timeout_seconds", timeoutSeconds,
		"patients_done", patientsDone,
	)
}

// LogCancelled logs an observed cancellation checkpoint.
// event: "job_cancelled"
// Attributes: progress, patients_done
func (jl *JobLogger) LogCancelled(progress, patientsDone int) {
	jl.logger.Info("job_cancelled",
		"progress", progress,
		"patients_done", patientsDone,
	)
}

// Global logger management
var (
	globalLogger *JobLogger
	globalMu     sync.RWMutex
)

// SetGlobalJobLogger sets the global job logger instance.
func SetGlobalJobLogger(l *JobLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalJobLogger returns the global job logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalJobLogger() *JobLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopJobLogger()
}

// NoopJobLogger returns a job logger that discards all events.
// Useful for testing or when event logging is disabled.
func NoopJobLogger() *JobLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler)
	return &JobLogger{logger: logger}
}
