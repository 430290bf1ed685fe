package retention

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/casgen-dev/casgen/internal/output"
	"github.com/casgen-dev/casgen/internal/store"
	"github.com/casgen-dev/casgen/internal/types"
)

type recordingForgetter struct {
	mu     sync.Mutex
	jobIDs []string
}

func (f *recordingForgetter) Forget(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobIDs = append(f.jobIDs, jobID)
}

func (f *recordingForgetter) forgotten() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.jobIDs))
	copy(out, f.jobIDs)
	return out
}

func seedTerminalJob(t *testing.T, st *store.Memory, id string, status types.JobStatus, age time.Duration) *types.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &types.Job{
		ID:          id,
		TenantKeyID: "key-retention",
		Status:      status,
		Progress:    100,
		CreatedAt:   now.Add(-age - time.Hour),
		UpdatedAt:   now.Add(-age),
		Summary:     &types.JobSummary{TotalPatients: 10, KIA: 2, RTD: 8},
		OutputFiles: []types.OutputFile{
			{Name: "patients.json", Format: "json", ContentType: "application/json", SizeBytes: 42},
		},
	}
	if status == types.JobCompleted || status == types.JobFailed {
		done := now.Add(-age)
		job.CompletedAt = &done
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob(%s): %v", id, err)
	}
	return job
}

func seedArtifact(t *testing.T, outputs *output.Store, jobID string) string {
	t.Helper()
	dir, err := outputs.EnsureJobDir(jobID)
	if err != nil {
		t.Fatalf("EnsureJobDir(%s): %v", jobID, err)
	}
	if err := os.WriteFile(dir+"/patients.json", []byte(`[]`), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return dir
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.RetentionDays != 7 {
		t.Errorf("expected RetentionDays=7, got %d", cfg.RetentionDays)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("expected SweepInterval=1h, got %s", cfg.SweepInterval)
	}

	cfg2 := Config{RetentionDays: 14, SweepInterval: 10 * time.Minute}.WithDefaults()
	if cfg2.RetentionDays != 14 {
		t.Errorf("expected RetentionDays=14, got %d", cfg2.RetentionDays)
	}
	if cfg2.SweepInterval != 10*time.Minute {
		t.Errorf("expected SweepInterval=10m, got %s", cfg2.SweepInterval)
	}
}

func TestSweepNow_RemovesExpiredJobs(t *testing.T) {
	st := store.NewMemory()
	outputs, err := output.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	forgetter := &recordingForgetter{}

	seedTerminalJob(t, st, "job-old", types.JobCompleted, 9*24*time.Hour)
	seedTerminalJob(t, st, "job-recent", types.JobCompleted, time.Hour)
	oldDir := seedArtifact(t, outputs, "job-old")
	recentDir := seedArtifact(t, outputs, "job-recent")

	mgr := NewManager(Config{RetentionDays: 7}, st, outputs, forgetter)

	swept := mgr.SweepNow(context.Background())
	if swept != 1 {
		t.Fatalf("expected 1 job swept, got %d", swept)
	}

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Errorf("expected %s removed, stat err=%v", oldDir, err)
	}
	if _, err := os.Stat(recentDir); err != nil {
		t.Errorf("expected %s untouched: %v", recentDir, err)
	}

	old, err := st.GetJob(context.Background(), "job-old")
	if err != nil {
		t.Fatalf("GetJob(job-old): %v", err)
	}
	if !old.Deleted {
		t.Error("expected swept job marked deleted")
	}
	if old.OutputFiles != nil {
		t.Errorf("expected output files cleared, got %v", old.OutputFiles)
	}
	if old.Summary == nil || old.Summary.TotalPatients != 10 {
		t.Error("expected summary preserved on the tombstoned row")
	}
	if old.Status != types.JobCompleted {
		t.Errorf("expected status preserved, got %s", old.Status)
	}

	recent, err := st.GetJob(context.Background(), "job-recent")
	if err != nil {
		t.Fatalf("GetJob(job-recent): %v", err)
	}
	if recent.Deleted {
		t.Error("recent job must not be swept")
	}
	if len(recent.OutputFiles) != 1 {
		t.Errorf("expected recent job to keep output files, got %v", recent.OutputFiles)
	}

	got := forgetter.forgotten()
	if len(got) != 1 || got[0] != "job-old" {
		t.Errorf("expected Forget(job-old) only, got %v", got)
	}
}

func TestSweepNow_AllTerminalStatuses(t *testing.T) {
	st := store.NewMemory()
	outputs, err := output.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	seedTerminalJob(t, st, "job-done", types.JobCompleted, 30*24*time.Hour)
	seedTerminalJob(t, st, "job-dead", types.JobFailed, 30*24*time.Hour)
	// Cancelled while pending: no CompletedAt, ages off UpdatedAt.
	seedTerminalJob(t, st, "job-gone", types.JobCancelled, 30*24*time.Hour)

	mgr := NewManager(Config{RetentionDays: 7}, st, outputs, nil)
	if swept := mgr.SweepNow(context.Background()); swept != 3 {
		t.Fatalf("expected 3 jobs swept, got %d", swept)
	}

	for _, id := range []string{"job-done", "job-dead", "job-gone"} {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob(%s): %v", id, err)
		}
		if !job.Deleted {
			t.Errorf("expected %s deleted", id)
		}
	}
}

func TestSweepNow_SkipsActiveJobs(t *testing.T) {
	st := store.NewMemory()
	outputs, err := output.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	seedTerminalJob(t, st, "job-stuck", types.JobRunning, 30*24*time.Hour)
	seedTerminalJob(t, st, "job-queued", types.JobPending, 30*24*time.Hour)

	mgr := NewManager(Config{RetentionDays: 7}, st, outputs, nil)
	if swept := mgr.SweepNow(context.Background()); swept != 0 {
		t.Fatalf("active jobs must never be swept, got %d", swept)
	}
}

func TestSweepNow_Idempotent(t *testing.T) {
	st := store.NewMemory()
	outputs, err := output.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	forgetter := &recordingForgetter{}

	seedTerminalJob(t, st, "job-old", types.JobCompleted, 9*24*time.Hour)
	seedArtifact(t, outputs, "job-old")

	mgr := NewManager(Config{RetentionDays: 7}, st, outputs, forgetter)
	if swept := mgr.SweepNow(context.Background()); swept != 1 {
		t.Fatalf("first pass: expected 1, got %d", swept)
	}
	if swept := mgr.SweepNow(context.Background()); swept != 0 {
		t.Fatalf("second pass must skip tombstoned rows, got %d", swept)
	}
	if got := forgetter.forgotten(); len(got) != 1 {
		t.Errorf("expected a single Forget call, got %v", got)
	}
}

func TestSweepNow_MissingArtifactDir(t *testing.T) {
	st := store.NewMemory()
	outputs, err := output.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Failed jobs often never wrote a directory.
	seedTerminalJob(t, st, "job-dirless", types.JobFailed, 9*24*time.Hour)

	mgr := NewManager(Config{RetentionDays: 7}, st, outputs, nil)
	if swept := mgr.SweepNow(context.Background()); swept != 1 {
		t.Fatalf("expected sweep to tolerate a missing directory, got %d", swept)
	}
}

func TestManager_StartStop(t *testing.T) {
	st := store.NewMemory()
	outputs, err := output.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	seedTerminalJob(t, st, "job-old", types.JobCompleted, 9*24*time.Hour)

	mgr := NewManager(Config{RetentionDays: 7, SweepInterval: 5 * time.Millisecond}, st, outputs, nil)
	mgr.Start()
	mgr.Start()

	deadline := time.After(2 * time.Second)
	for {
		job, err := st.GetJob(context.Background(), "job-old")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Deleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background sweep never ran")
		case <-time.After(2 * time.Millisecond):
		}
	}

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return in time")
	}

	mgr.Stop()
}

func TestSweepNow_ClockOverride(t *testing.T) {
	st := store.NewMemory()
	outputs, err := output.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	seedTerminalJob(t, st, "job-edge", types.JobCompleted, 6*24*time.Hour)

	mgr := NewManager(Config{RetentionDays: 7}, st, outputs, nil)
	if swept := mgr.SweepNow(context.Background()); swept != 0 {
		t.Fatalf("job inside the window must survive, got %d swept", swept)
	}

	// Two days later the same job has aged out.
	mgr.SetNow(func() time.Time { return time.Now().Add(48 * time.Hour) })
	if swept := mgr.SweepNow(context.Background()); swept != 1 {
		t.Fatalf("job outside the window must be swept, got %d", swept)
	}
}
