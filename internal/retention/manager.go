package retention

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

// Jobs is the slice of the job store the sweeper reads and tombstones.
type Jobs interface {
	JobsByStatus(ctx context.Context, status types.JobStatus) ([]*types.Job, error)
	UpdateJob(ctx context.Context, job *types.Job) error
}

// Artifacts removes a job's output directory.
type Artifacts interface {
	Remove(jobID string) error
}

// Forgetter drops in-process state for a swept job (event log,
// cancellation flag). Optional; nil skips the call.
type Forgetter interface {
	Forget(jobID string)
}

var terminalStatuses = []types.JobStatus{
	types.JobCompleted,
	types.JobFailed,
	types.JobCancelled,
}

// Manager handles periodic cleanup of expired job artifacts.
type Manager struct {
	config    Config
	jobs      Jobs
	artifacts Artifacts
	forget    Forgetter

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool

	now func() time.Time
}

// NewManager creates a new retention Manager.
func NewManager(config Config, jobs Jobs, artifacts Artifacts, forget Forgetter) *Manager {
	return &Manager{
		config:    config.WithDefaults(),
		jobs:      jobs,
		artifacts: artifacts,
		forget:    forget,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		now:       time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

// Start begins the background sweep goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	go m.run()
}

// Stop signals the background goroutine to stop and waits for it to exit.
func (m *Manager) Stop() {
	shouldStop := false
	func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.running {
			return
		}
		m.running = false
		shouldStop = true
	}()

	if !shouldStop {
		return
	}

	close(m.stopCh)
	<-m.stoppedCh
}

func (m *Manager) run() {
	defer close(m.stoppedCh)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweep() {
	swept := m.SweepNow(context.Background())
	if swept > 0 {
		log.Printf("[Retention] swept %d jobs older than %d days", swept, m.config.RetentionDays)
	}
}

// SweepNow runs one sweep pass and returns the number of jobs swept.
// The server calls this once on boot so a long-stopped instance does
// not wait a full interval before honoring the retention window.
func (m *Manager) SweepNow(ctx context.Context) int {
	if m.jobs == nil {
		return 0
	}

	cutoff := m.now().Add(-time.Duration(m.config.RetentionDays) * 24 * time.Hour)
	swept := 0

	for _, status := range terminalStatuses {
		records, err := m.jobs.JobsByStatus(ctx, status)
		if err != nil {
			log.Printf("[Retention] list %s jobs: %v", status, err)
			continue
		}
		for _, job := range records {
			if job.Deleted || !expired(job, cutoff) {
				continue
			}
			if err := m.sweepJob(ctx, job); err != nil {
				log.Printf("[Retention] sweep job %s: %v", job.ID, err)
				continue
			}
			swept++
		}
	}

	return swept
}

func (m *Manager) sweepJob(ctx context.Context, job *types.Job) error {
	if m.artifacts != nil {
		if err := m.artifacts.Remove(job.ID); err != nil {
			return err
		}
	}

	// Tombstone rather than delete: the row keeps its summary and error
	// so GET /jobs/{id} still answers after the files are gone.
	job.Deleted = true
	job.OutputFiles = nil
	job.UpdatedAt = m.now().UTC()
	if err := m.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	if m.forget != nil {
		m.forget.Forget(job.ID)
	}
	return nil
}

// expired reports whether the job's terminal timestamp is older than
// the cutoff. Jobs that never recorded CompletedAt (cancelled while
// pending) age off their last update instead.
func expired(job *types.Job, cutoff time.Time) bool {
	anchor := job.UpdatedAt
	if job.CompletedAt != nil {
		anchor = *job.CompletedAt
	}
	if anchor.IsZero() {
		return false
	}
	return anchor.Before(cutoff)
}
