package jobs

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/casgen-dev/casgen/internal/evac"
	"github.com/casgen-dev/casgen/internal/events"
	"github.com/casgen-dev/casgen/internal/otel"
	"github.com/casgen-dev/casgen/internal/output"
	"github.com/casgen-dev/casgen/internal/scenario"
	"github.com/casgen-dev/casgen/internal/simulator"
	"github.com/casgen-dev/casgen/internal/stats"
	"github.com/casgen-dev/casgen/internal/types"
)

// Progress anchor points. Initialization claims the first 5%, patient
// generation the band up to 95%, finalization the rest.
const (
	progressInit       = 5
	progressGeneration = 95
	progressDone       = 100
)

// UsageRecorder accounts produced patients against the owning key.
type UsageRecorder interface {
	RecordCompletion(ctx context.Context, keyID string, patients int64) error
}

// PoolConfig sizes the worker pool and the per-job execution bounds.
type PoolConfig struct {
	// Size is the number of concurrent workers. Default: min(NumCPU, 4).
	Size int

	// BatchSize is the patient count between store checkpoints.
	// Default: 500.
	BatchSize int

	// JobTimeout is the soft per-job deadline. Default: 30 minutes.
	JobTimeout time.Duration
}

// DefaultPoolSize returns min(NumCPU, 4).
func DefaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (c PoolConfig) withDefaults() PoolConfig {
	out := c
	if out.Size <= 0 {
		out.Size = DefaultPoolSize()
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 500
	}
	if out.JobTimeout <= 0 {
		out.JobTimeout = 30 * time.Minute
	}
	return out
}

// WorkerPool drains the manager's queue with a bounded set of workers.
// Each worker owns one job at a time end to end: resolve configuration,
// generate casualty events, simulate patients in batches streamed to
// the output writers, finalize artifacts, and land the terminal status.
type WorkerPool struct {
	cfg       PoolConfig
	mgr       *Manager
	outputs   *output.Store
	engine    *simulator.Engine
	generator *scenario.Generator
	usage     UsageRecorder
	tracer    *otel.Tracer
	logWriter func(jobID, workerID string) *events.JobLogger

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewWorkerPool wires a pool to the manager's queue and store.
func NewWorkerPool(mgr *Manager, outputs *output.Store, engine *simulator.Engine, generator *scenario.Generator, cfg PoolConfig) *WorkerPool {
	return &WorkerPool{
		cfg:       cfg.withDefaults(),
		mgr:       mgr,
		outputs:   outputs,
		engine:    engine,
		generator: generator,
		tracer:    otel.NoopTracer(),
		logWriter: events.NewJobLogger,
	}
}

// SetUsageRecorder wires completion accounting. Optional.
func (p *WorkerPool) SetUsageRecorder(u UsageRecorder) { p.usage = u }

// SetTracer wires job execution spans. Optional.
func (p *WorkerPool) SetTracer(t *otel.Tracer) {
	if t != nil {
		p.tracer = t
	}
}

// SetJobLoggerFactory overrides per-job logger construction for tests.
func (p *WorkerPool) SetJobLoggerFactory(f func(jobID, workerID string) *events.JobLogger) {
	if f != nil {
		p.logWriter = f
	}
}

// Start launches the workers. Idempotent.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.baseCtx, p.stop = context.WithCancel(context.Background())
	for i := 0; i < p.cfg.Size; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		p.wg.Add(1)
		go p.worker(workerID)
	}
	log.Printf("[WorkerPool] started %d workers (batch=%d, timeout=%s)",
		p.cfg.Size, p.cfg.BatchSize, p.cfg.JobTimeout)
}

// Stop closes the queue and waits for in-flight jobs to land, up to
// the context deadline. Workers finish their current job; queued jobs
// stay pending and are re-enqueued on the next boot.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	p.mgr.closeQueue()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.stop()
		log.Printf("[WorkerPool] stopped")
		return nil
	case <-ctx.Done():
		p.stop()
		return ctx.Err()
	}
}

func (p *WorkerPool) worker(workerID string) {
	defer p.wg.Done()
	for {
		jobID, ok := p.mgr.dequeue(p.baseCtx)
		if !ok {
			return
		}
		p.runJob(p.baseCtx, workerID, jobID)
	}
}

// runJob executes one job with a panic boundary: a panicking
// generation never takes the worker down, it fails the job.
func (p *WorkerPool) runJob(ctx context.Context, workerID, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WorkerPool] %s: job %s panicked: %v", workerID, jobID, r)
			p.removeArtifacts(jobID)
			p.failJob(ctx, jobID, "GENERATION_ERROR", fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	p.execute(ctx, workerID, jobID)
}

func (p *WorkerPool) execute(ctx context.Context, workerID, jobID string) {
	job, err := p.mgr.store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("[WorkerPool] %s: load job %s: %v", workerID, jobID, err)
		return
	}
	if job.Status.Terminal() {
		// Cancelled while queued; the row already says so.
		return
	}
	if p.mgr.Cancelled(jobID) {
		p.finishCancelled(ctx, job, nil, 0)
		return
	}

	jl := p.logWriter(jobID, workerID)
	started := p.mgr.now().UTC()

	if !CanTransition(job.Status, types.JobRunning) {
		log.Printf("[WorkerPool] %s: job %s in %s, cannot start", workerID, jobID, job.Status)
		return
	}
	job.Status = types.JobRunning
	job.Progress = progressInit
	job.PhaseDescription = "Initializing"
	job.StartedAt = &started
	job.UpdatedAt = started
	if err := p.mgr.store.UpdateJob(ctx, job); err != nil {
		log.Printf("[WorkerPool] %s: start job %s: %v", workerID, jobID, err)
		return
	}
	p.mgr.appendEvent(jobID, EventTypeStateTransition, "pending -> running", map[string]any{
		"from": string(types.JobPending), "to": string(types.JobRunning),
	})
	jl.LogStateTransition(string(types.JobPending), string(types.JobRunning), "worker pickup")

	// A cancel that slipped in between the flag check and the running
	// write is caught here rather than after a full batch.
	if p.mgr.Cancelled(jobID) {
		p.finishCancelled(ctx, job, jl, 0)
		return
	}

	cfg, report := p.mgr.validator.ValidateRequest(job.Request)
	if !report.OK {
		p.failJobRecord(ctx, job, jl, "VALIDATION_ERROR", "configuration validation failed",
			map[string]any{"errors": report.Errors})
		return
	}

	ctx, span := p.tracer.StartJobSpan(ctx, otel.JobSpanOptions{
		JobID:         jobID,
		TenantKeyID:   job.TenantKeyID,
		WorkerID:      workerID,
		Priority:      string(job.Priority),
		TotalPatients: cfg.TotalPatients,
	})
	defer span.End()

	ev, err := evac.NewManager(cfg.Evacuation)
	if err != nil {
		otel.RecordError(span, err, "GENERATION_ERROR")
		p.failJobRecord(ctx, job, jl, "GENERATION_ERROR", err.Error(), nil)
		return
	}

	seed := simulator.JobSeed(cfg)
	casualtyEvents, err := p.generator.Generate(cfg, seed)
	if err != nil {
		otel.RecordError(span, err, "GENERATION_ERROR")
		p.failJobRecord(ctx, job, jl, "GENERATION_ERROR", err.Error(), nil)
		return
	}

	agg := stats.NewAggregator()
	agg.ObserveEvents(casualtyEvents)
	mass := 0
	for _, e := range casualtyEvents {
		if e.IsMassCasualty {
			mass++
		}
	}
	jl.LogEventsGenerated(len(casualtyEvents), mass)
	p.mgr.appendEvent(jobID, EventTypeEventsGenerated, "casualty events generated", map[string]any{
		"event_count": len(casualtyEvents), "mass_casualty_count": mass,
	})

	dir, err := p.outputs.EnsureJobDir(jobID)
	if err != nil {
		otel.RecordError(span, err, "STORAGE_ERROR")
		p.failJobRecord(ctx, job, jl, "STORAGE_ERROR", err.Error(), nil)
		return
	}

	writers, names, err := p.openWriters(dir, job.Request)
	if err != nil {
		otel.RecordError(span, err, "STORAGE_ERROR")
		p.failJobRecord(ctx, job, jl, "STORAGE_ERROR", err.Error(), nil)
		return
	}
	closeAll := func() {
		for _, w := range writers {
			w.Close()
		}
	}

	run := p.engine.NewRun(cfg, casualtyEvents, ev, seed, jl.Slog())
	total := run.Total()
	stride := progressStride(total)
	done := 0

	for run.More() {
		if p.mgr.Cancelled(jobID) {
			closeAll()
			p.removeArtifacts(jobID)
			p.finishCancelled(ctx, job, jl, done)
			return
		}

		patient, err := run.Next()
		if err != nil {
			closeAll()
			p.removeArtifacts(jobID)
			otel.RecordError(span, err, "GENERATION_ERROR")
			p.failJobRecord(ctx, job, jl, "GENERATION_ERROR", err.Error(), nil)
			return
		}
		for _, w := range writers {
			if err := w.Append(patient); err != nil {
				closeAll()
				p.removeArtifacts(jobID)
				otel.RecordError(span, err, "STORAGE_ERROR")
				p.failJobRecord(ctx, job, jl, "STORAGE_ERROR", err.Error(), nil)
				return
			}
		}
		agg.Observe(patient)
		done++

		if done%stride == 0 && done < total {
			p.updateProgress(ctx, job, jl, started, done, total)
		}

		if done%p.cfg.BatchSize == 0 {
			if elapsed := p.mgr.now().Sub(started); elapsed > p.cfg.JobTimeout {
				files := p.finalizeWriters(writers, jl)
				jl.LogTimeout(elapsed.Seconds(), done)
				job.Partial = len(files) > 0
				job.OutputFiles = files
				p.failJobRecord(ctx, job, jl, "GENERATION_ERROR", "timeout", map[string]any{
					"timeout_seconds": p.cfg.JobTimeout.Seconds(),
					"patients_done":   done,
				})
				return
			}
		}
	}

	// Finalization claims the 95..100 band.
	job.Progress = progressGeneration
	job.PhaseDescription = "Writing outputs"
	job.UpdatedAt = p.mgr.now().UTC()
	if err := p.mgr.store.UpdateJob(ctx, job); err != nil {
		closeAll()
		log.Printf("[WorkerPool] %s: persist finalization of %s: %v", workerID, jobID, err)
		return
	}
	jl.LogProgress(progressGeneration, job.PhaseDescription)
	p.mgr.appendEvent(jobID, EventTypeProgress, job.PhaseDescription, map[string]any{
		"progress": progressGeneration,
	})

	outputFiles := make([]types.OutputFile, 0, len(writers)+1)
	for _, w := range writers {
		if p.mgr.Cancelled(jobID) {
			closeAll()
			p.removeArtifacts(jobID)
			p.finishCancelled(ctx, job, jl, done)
			return
		}
		of, err := w.Finish()
		if err != nil {
			closeAll()
			p.removeArtifacts(jobID)
			otel.RecordError(span, err, "STORAGE_ERROR")
			p.failJobRecord(ctx, job, jl, "STORAGE_ERROR", err.Error(), nil)
			return
		}
		outputFiles = append(outputFiles, of)
		jl.LogArtifact(of.Name, of.Format, of.SizeBytes)
		p.mgr.appendEvent(jobID, EventTypeArtifactWritten, of.Name, map[string]any{
			"format": of.Format, "size_bytes": of.SizeBytes,
		})
	}

	if job.Request.UseEncryption {
		if p.mgr.Cancelled(jobID) {
			p.removeArtifacts(jobID)
			p.finishCancelled(ctx, job, jl, done)
			return
		}
		job.PhaseDescription = "Bundling artifacts"
		job.Progress = 97
		job.UpdatedAt = p.mgr.now().UTC()
		if err := p.mgr.store.UpdateJob(ctx, job); err != nil {
			log.Printf("[WorkerPool] %s: persist bundling of %s: %v", workerID, jobID, err)
			return
		}
		bundle, err := output.WriteEncryptedBundle(dir, output.BundleName(jobID), names,
			job.Request.EncryptionPassword, job.CreatedAt)
		if err != nil {
			p.removeArtifacts(jobID)
			otel.RecordError(span, err, "STORAGE_ERROR")
			p.failJobRecord(ctx, job, jl, "STORAGE_ERROR", err.Error(), nil)
			return
		}
		outputFiles = append(outputFiles, bundle)
		jl.LogArtifact(bundle.Name, bundle.Format, bundle.SizeBytes)
		p.mgr.appendEvent(jobID, EventTypeArtifactWritten, bundle.Name, map[string]any{
			"format": bundle.Format, "size_bytes": bundle.SizeBytes,
		})
	}

	completed := p.mgr.now().UTC()
	summary := agg.Summary()
	summary.GenerationSeconds = completed.Sub(started).Seconds()
	summary.PeakRSSBytes = currentRSS()

	job.Status = types.JobCompleted
	job.Progress = progressDone
	job.PhaseDescription = "Done"
	job.OutputFiles = outputFiles
	job.Summary = &summary
	job.UpdatedAt = completed
	job.CompletedAt = &completed
	job.EstimatedCompletion = nil
	if err := p.mgr.store.UpdateJob(ctx, job); err != nil {
		log.Printf("[WorkerPool] %s: persist completion of %s: %v", workerID, jobID, err)
		return
	}
	p.mgr.MarkTerminal(jobID)
	p.mgr.appendEvent(jobID, EventTypeStateTransition, "running -> completed", map[string]any{
		"from": string(types.JobRunning), "to": string(types.JobCompleted),
	})
	p.mgr.appendEvent(jobID, EventTypeJobCompleted, "Done", map[string]any{
		"total_patients": summary.TotalPatients,
	})
	jl.LogStateTransition(string(types.JobRunning), string(types.JobCompleted), "done")
	p.mgr.metrics.JobCompleted(ctx, string(types.JobCompleted), summary.GenerationSeconds)
	p.mgr.metrics.PatientsGenerated(ctx, int64(summary.TotalPatients))

	if p.usage != nil {
		if err := p.usage.RecordCompletion(ctx, job.TenantKeyID, int64(summary.TotalPatients)); err != nil {
			log.Printf("[WorkerPool] %s: record usage for %s: %v", workerID, jobID, err)
		}
	}
}

// openWriters builds the artifact writers for the requested formats.
// patients.json is always written; names returns the artifact file
// names for bundling.
func (p *WorkerPool) openWriters(dir string, req *types.GenerationRequest) ([]patientWriter, []string, error) {
	writers := []patientWriter{}
	names := []string{}

	jw, err := output.NewJSONWriter(filepath.Join(dir, output.PatientsJSON))
	if err != nil {
		return nil, nil, err
	}
	writers = append(writers, jw)
	names = append(names, output.PatientsJSON)

	for _, f := range req.OutputFormats {
		if f == types.FormatCSV {
			cw, err := output.NewCSVWriter(filepath.Join(dir, output.PatientsCSV))
			if err != nil {
				jw.Close()
				return nil, nil, err
			}
			writers = append(writers, cw)
			names = append(names, output.PatientsCSV)
			break
		}
	}
	return writers, names, nil
}

// patientWriter is the streaming surface shared by the JSON and CSV
// writers.
type patientWriter interface {
	Append(*types.Patient) error
	Finish() (types.OutputFile, error)
	Close() error
}

// updateProgress writes the generation-band progress and the
// rate-derived completion estimate.
func (p *WorkerPool) updateProgress(ctx context.Context, job *types.Job, jl *events.JobLogger, started time.Time, done, total int) {
	now := p.mgr.now().UTC()
	progress := progressInit + done*(progressGeneration-progressInit)/total
	if progress > progressGeneration {
		progress = progressGeneration
	}
	if progress < job.Progress {
		progress = job.Progress
	}
	job.Progress = progress
	job.PhaseDescription = progressPhase(done, total)
	job.UpdatedAt = now

	if elapsed := now.Sub(started); elapsed > 0 && done > 0 {
		remaining := time.Duration(float64(elapsed) * float64(total-done) / float64(done))
		eta := now.Add(remaining)
		job.EstimatedCompletion = &eta
	}

	if err := p.mgr.store.UpdateJob(ctx, job); err != nil {
		log.Printf("[WorkerPool] persist progress of %s: %v", job.ID, err)
		return
	}
	jl.LogProgress(progress, job.PhaseDescription)
	p.mgr.appendEvent(job.ID, EventTypeProgress, job.PhaseDescription, map[string]any{
		"progress": progress, "patients_done": done, "total": total,
	})
}

// finalizeWriters closes out whatever the writers hold so partial
// artifacts are valid files. Used on the timeout path.
func (p *WorkerPool) finalizeWriters(writers []patientWriter, jl *events.JobLogger) []types.OutputFile {
	files := make([]types.OutputFile, 0, len(writers))
	for _, w := range writers {
		of, err := w.Finish()
		if err != nil {
			w.Close()
			continue
		}
		files = append(files, of)
		jl.LogArtifact(of.Name, of.Format, of.SizeBytes)
	}
	return files
}

// finishCancelled lands the cancelled status with progress frozen where
// the flag was observed.
func (p *WorkerPool) finishCancelled(ctx context.Context, job *types.Job, jl *events.JobLogger, patientsDone int) {
	now := p.mgr.now().UTC()
	from := job.Status
	if !CanTransition(from, types.JobCancelled) && from != types.JobCancelled {
		return
	}
	job.Status = types.JobCancelled
	job.PhaseDescription = "Cancelled"
	job.UpdatedAt = now
	job.CompletedAt = &now
	job.EstimatedCompletion = nil
	job.OutputFiles = nil
	if err := p.mgr.store.UpdateJob(ctx, job); err != nil {
		log.Printf("[WorkerPool] persist cancellation of %s: %v", job.ID, err)
		return
	}
	p.mgr.MarkTerminal(job.ID)
	p.mgr.appendEvent(job.ID, EventTypeStateTransition, string(from)+" -> cancelled", map[string]any{
		"from": string(from), "to": string(types.JobCancelled),
	})
	p.mgr.appendEvent(job.ID, EventTypeJobCancelled, "cancelled at checkpoint", map[string]any{
		"patients_done": patientsDone, "progress": job.Progress,
	})
	if jl != nil {
		jl.LogCancelled(job.Progress, patientsDone)
		jl.LogStateTransition(string(from), string(types.JobCancelled), "cancel requested")
	}
	var duration float64
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt).Seconds()
	}
	p.mgr.metrics.JobCompleted(ctx, string(types.JobCancelled), duration)
	log.Printf("[WorkerPool] job %s cancelled after %d patients", job.ID, patientsDone)
}

// failJob loads the job before recording the failure. Used from the
// panic boundary where no loaded record is in scope.
func (p *WorkerPool) failJob(ctx context.Context, jobID, code, message string, details map[string]any) {
	job, err := p.mgr.store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("[WorkerPool] load job %s for failure record: %v", jobID, err)
		return
	}
	p.failJobRecord(ctx, job, nil, code, message, details)
}

// failJobRecord lands the failed status on an already-loaded record.
func (p *WorkerPool) failJobRecord(ctx context.Context, job *types.Job, jl *events.JobLogger, code, message string, details map[string]any) {
	if job.Status.Terminal() {
		return
	}
	now := p.mgr.now().UTC()
	from := job.Status
	job.Status = types.JobFailed
	job.PhaseDescription = "Failed"
	job.Error = &types.JobError{Code: code, Message: message, Details: details}
	job.UpdatedAt = now
	job.CompletedAt = &now
	job.EstimatedCompletion = nil
	if err := p.mgr.store.UpdateJob(ctx, job); err != nil {
		log.Printf("[WorkerPool] persist failure of %s: %v", job.ID, err)
		return
	}
	p.mgr.MarkTerminal(job.ID)
	p.mgr.appendEvent(job.ID, EventTypeStateTransition, string(from)+" -> failed", map[string]any{
		"from": string(from), "to": string(types.JobFailed),
	})
	p.mgr.appendEvent(job.ID, EventTypeJobFailed, message, map[string]any{"code": code})
	if jl != nil {
		jl.LogFailure(code, message)
		jl.LogStateTransition(string(from), string(types.JobFailed), message)
	}
	var duration float64
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt).Seconds()
	}
	p.mgr.metrics.JobCompleted(ctx, string(types.JobFailed), duration)
	log.Printf("[WorkerPool] job %s failed: %s: %s", job.ID, code, message)
}

// removeArtifacts drops the job's output directory. Errors are logged;
// the retention sweeper retries later.
func (p *WorkerPool) removeArtifacts(jobID string) {
	if err := p.outputs.Remove(jobID); err != nil {
		log.Printf("[WorkerPool] remove artifacts of %s: %v", jobID, err)
	}
}

// progressStride returns the patient interval between progress writes,
// scaled so small jobs report smoothly and large jobs cheaply.
func progressStride(total int) int {
	switch {
	case total <= 10:
		return 1
	case total <= 100:
		return 5
	case total <= 1000:
		return 10
	default:
		return 50
	}
}

// currentRSS samples the process resident set size. Zero when the
// platform reports nothing.
func currentRSS() uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mi, err := proc.MemoryInfo()
	if err != nil || mi == nil {
		return 0
	}
	return mi.RSS
}
