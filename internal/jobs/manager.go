// Package jobs owns the asynchronous generation job lifecycle: the
// pending/running/terminal state machine, the priority queue drained by
// the worker pool, progress reporting, per-job event logs, and crash
// recovery. The persisted job row is the source of truth; in-process
// state (cancellation flags, event rings) is advisory and rebuilt
// empty after a restart.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/casgen-dev/casgen/internal/otel"
	"github.com/casgen-dev/casgen/internal/store"
	"github.com/casgen-dev/casgen/internal/types"
	"github.com/casgen-dev/casgen/internal/validation"
)

// maxTrackedHandles bounds the in-process registry of cancellation
// flags and event logs. Terminal handles past the bound are evicted
// oldest first; their event history becomes unavailable over SSE.
const maxTrackedHandles = 1024

// estimatedPatientsPerSecond is the coarse planning rate behind the
// estimated_duration_seconds hint returned at submission.
const estimatedPatientsPerSecond = 2000.0

// handle carries the in-process coordination state for one job.
type handle struct {
	cancelled atomic.Bool
	terminal  atomic.Bool
	log       *EventLog
}

// Manager owns job submission, lookup, cancellation and recovery. A
// WorkerPool drains the queue it feeds.
type Manager struct {
	store     store.Store
	validator *validation.Validator
	metrics   *otel.Metrics
	queue     *priorityQueue

	mu      sync.RWMutex
	handles map[string]*handle
	order   []string

	now func() time.Time
}

// NewManager creates a Manager persisting to st and validating
// submissions with v.
func NewManager(st store.Store, v *validation.Validator) *Manager {
	return &Manager{
		store:     st,
		validator: v,
		metrics:   otel.NoopMetrics(),
		queue:     newPriorityQueue(),
		handles:   make(map[string]*handle),
		now:       time.Now,
	}
}

// SetMetrics wires the OTel instruments. Must be called before Submit.
func (m *Manager) SetMetrics(mx *otel.Metrics) {
	if mx != nil {
		m.metrics = mx
	}
}

// SetNow overrides the clock for tests.
func (m *Manager) SetNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Submit validates the request, persists a pending record owned by
// tenantKeyID, and enqueues it. Work never runs synchronously.
func (m *Manager) Submit(ctx context.Context, tenantKeyID string, req *types.GenerationRequest) (*types.Job, error) {
	cfg, report := m.validator.ValidateRequest(req)
	if !report.OK {
		return nil, NewValidationError("", map[string]any{
			"errors":   report.Errors,
			"warnings": report.Warnings,
		})
	}

	priority := req.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}

	now := m.now().UTC()
	job := &types.Job{
		ID:          uuid.NewString(),
		TenantKeyID: tenantKeyID,
		Status:      types.JobPending,
		Priority:    priority,
		Progress:    0,
		Request:     req,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, NewStorageError(job.ID, err)
	}

	h := m.register(job.ID)
	h.log.Append(EventTypeJobSubmitted, "job accepted", map[string]any{
		"priority":       string(priority),
		"total_patients": cfg.TotalPatients,
	})

	m.queue.Push(job.ID, priority)
	m.metrics.JobSubmitted(ctx)
	m.metrics.QueueDepthAdd(ctx, 1)

	return job, nil
}

// Validate runs a request through admission validation without
// creating a job. The dry-run endpoint serves this directly.
func (m *Manager) Validate(req *types.GenerationRequest) (*types.Configuration, *validation.ValidationReport) {
	return m.validator.ValidateRequest(req)
}

// EstimateDuration returns the coarse duration hint for a submission,
// in whole seconds.
func EstimateDuration(totalPatients int) int {
	if totalPatients <= 0 {
		return 1
	}
	return int(math.Ceil(float64(totalPatients)/estimatedPatientsPerSecond)) + 1
}

// Get returns the job if it exists and belongs to tenantKeyID.
// Ownership misses surface as not-found, never as forbidden.
func (m *Manager) Get(ctx context.Context, tenantKeyID, jobID string) (*types.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewNotFoundError(jobID)
	}
	if err != nil {
		return nil, NewStorageError(jobID, err)
	}
	if job.TenantKeyID != tenantKeyID {
		return nil, NewNotFoundError(jobID)
	}
	return job, nil
}

// List returns the tenant's jobs newest first plus the total matching
// count before pagination.
func (m *Manager) List(ctx context.Context, tenantKeyID string, limit, offset int) ([]*types.Job, int, error) {
	jobs, total, err := m.store.ListJobs(ctx, store.JobFilter{
		TenantKeyID: tenantKeyID,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return nil, 0, NewStorageError("", err)
	}
	return jobs, total, nil
}

// Cancel requests cancellation. Pending jobs flip to cancelled
// immediately; running jobs get a flag the worker observes at its next
// checkpoint. Cancelling a terminal job is an invalid transition.
func (m *Manager) Cancel(ctx context.Context, tenantKeyID, jobID string) (*types.Job, error) {
	job, err := m.Get(ctx, tenantKeyID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, NewInvalidTransitionError(jobID, job.Status, types.JobCancelled)
	}

	h := m.register(jobID)
	h.cancelled.Store(true)

	if job.Status == types.JobPending {
		now := m.now().UTC()
		from := job.Status
		job.Status = types.JobCancelled
		job.PhaseDescription = "Cancelled"
		job.UpdatedAt = now
		job.CompletedAt = &now
		if err := m.store.UpdateJob(ctx, job); err != nil {
			return nil, NewStorageError(jobID, err)
		}
		m.MarkTerminal(jobID)
		h.log.Append(EventTypeStateTransition, "pending -> cancelled", map[string]any{
			"from": string(from), "to": string(types.JobCancelled),
		})
		h.log.Append(EventTypeJobCancelled, "cancelled before start", nil)
		m.metrics.JobCompleted(ctx, string(types.JobCancelled), 0)
		log.Printf("[JobManager] job %s cancelled while pending", jobID)
	}

	return job, nil
}

// Recover reconciles persisted state after a restart: running jobs
// have no owning worker and fail as orphaned, pending jobs re-enter
// the queue oldest first.
func (m *Manager) Recover(ctx context.Context) error {
	running, err := m.store.JobsByStatus(ctx, types.JobRunning)
	if err != nil {
		return NewStorageError("", err)
	}
	for _, job := range running {
		now := m.now().UTC()
		job.Status = types.JobFailed
		job.PhaseDescription = "Failed"
		job.Error = &types.JobError{Code: "GENERATION_ERROR", Message: "orphaned"}
		job.UpdatedAt = now
		job.CompletedAt = &now
		if err := m.store.UpdateJob(ctx, job); err != nil {
			return NewStorageError(job.ID, err)
		}
		log.Printf("[JobManager] job %s orphaned by restart, marked failed", job.ID)
	}

	pending, err := m.store.JobsByStatus(ctx, types.JobPending)
	if err != nil {
		return NewStorageError("", err)
	}
	for _, job := range pending {
		m.register(job.ID)
		m.queue.Push(job.ID, job.Priority)
		m.metrics.QueueDepthAdd(ctx, 1)
	}
	if len(running) > 0 || len(pending) > 0 {
		log.Printf("[JobManager] recovery: %d orphaned, %d re-enqueued", len(running), len(pending))
	}
	return nil
}

// Events returns the in-process event log for a job, or nil when the
// job is unknown to this process (restarted, evicted, or never local).
func (m *Manager) Events(jobID string) *EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.handles[jobID]; ok {
		return h.log
	}
	return nil
}

// QueueDepth returns the number of jobs waiting for a worker.
func (m *Manager) QueueDepth() int {
	return m.queue.Len()
}

// Forget drops the in-process handle for a job. The retention sweeper
// calls this when a job's artifacts are removed.
func (m *Manager) Forget(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, jobID)
}

// MarkTerminal records that a job reached a terminal status, making
// its handle evictable.
func (m *Manager) MarkTerminal(jobID string) {
	m.mu.RLock()
	h, ok := m.handles[jobID]
	m.mu.RUnlock()
	if ok {
		h.terminal.Store(true)
	}
}

// Cancelled reports whether cancellation was requested for a job.
func (m *Manager) Cancelled(jobID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.handles[jobID]; ok {
		return h.cancelled.Load()
	}
	return false
}

// register returns the handle for jobID, creating it if needed.
func (m *Manager) register(jobID string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[jobID]; ok {
		return h
	}
	h := &handle{log: NewEventLog(jobID)}
	m.handles[jobID] = h
	m.order = append(m.order, jobID)
	m.pruneLocked()
	return h
}

// pruneLocked evicts the oldest terminal handles beyond the registry
// bound. Callers hold m.mu.
func (m *Manager) pruneLocked() {
	if len(m.handles) <= maxTrackedHandles {
		return
	}
	keep := m.order[:0]
	for _, id := range m.order {
		h, ok := m.handles[id]
		if ok && h.terminal.Load() && len(m.handles) > maxTrackedHandles {
			delete(m.handles, id)
			continue
		}
		if ok {
			keep = append(keep, id)
		}
	}
	m.order = keep
}

// dequeue hands the next scheduled job to a worker. Blocks until work
// is available or the queue closes.
func (m *Manager) dequeue(ctx context.Context) (string, bool) {
	id, ok := m.queue.Pop()
	if ok {
		m.metrics.QueueDepthAdd(ctx, -1)
	}
	return id, ok
}

// closeQueue releases blocked workers during shutdown.
func (m *Manager) closeQueue() {
	m.queue.Close()
}

// appendEvent adds an entry to a job's event log if the handle is
// still tracked.
func (m *Manager) appendEvent(jobID string, typ EventType, msg string, payload map[string]any) {
	m.mu.RLock()
	h, ok := m.handles[jobID]
	m.mu.RUnlock()
	if ok {
		h.log.Append(typ, msg, payload)
	}
}

// progressPhase formats the generation phase label.
func progressPhase(done, total int) string {
	return fmt.Sprintf("Generating patient %d/%d", done, total)
}
