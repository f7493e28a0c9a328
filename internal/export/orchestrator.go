// Package export implements the export orchestrator: preset resolution,
// optional synchronous timeline rendering, and a bounded worker pool that
// drives encode tasks to a terminal status.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidforge/internal/artifacts"
	"vidforge/internal/media"
	"vidforge/internal/pkg/errors"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/ports"
	"vidforge/internal/timeline"
)

// Encoder runs one transcode, reporting fractional progress. Satisfied by
// media.FFmpeg.
type Encoder interface {
	Transcode(ctx context.Context, inputFile, outputFile string, spec media.RenderSpec, progress func(float64)) error
}

// TimelineRenderer is the slice of the renderer used when a request
// carries an inline timeline instead of an input file.
type TimelineRenderer interface {
	GenerateFinal(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error
}

// HistoryRecorder persists terminal export records for cross-process
// history. Optional; absence means history is in-memory only.
type HistoryRecorder interface {
	RecordExport(ctx context.Context, job *Job) error
}

// Request is one export submission. Exactly one of InputFile or Timeline
// must be set.
type Request struct {
	PresetName     string                     `json:"preset"`
	InputFile      string                     `json:"input_file,omitempty"`
	Timeline       *timeline.EditableTimeline `json:"timeline,omitempty"`
	TargetPlatform string                     `json:"target_platform,omitempty"`
}

// Deps declares the orchestrator's collaborators. Artifacts and Encoder
// are required. Renderer is needed only for inline-timeline requests;
// Publisher and History are optional.
type Deps struct {
	Artifacts *artifacts.Store
	Encoder   Encoder
	Renderer  TimelineRenderer
	// Workers bounds concurrent encodes. Sized from the host resource
	// budget by the caller; defaults to 1.
	Workers int
	// QueueDepth bounds the pending-task backlog. Defaults to 1024.
	QueueDepth int
	Publisher  ports.StorageProvider
	History   HistoryRecorder
	Log       *logger.Logger
}

// Orchestrator owns export job records and the worker pool executing them.
type Orchestrator struct {
	artifacts *artifacts.Store
	encoder   Encoder
	renderer  TimelineRenderer
	publisher ports.StorageProvider
	history   HistoryRecorder
	log       *logger.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string
	cancels map[string]context.CancelFunc
	closed  bool

	tasks chan string
	wg    sync.WaitGroup
}

// New validates collaborators and starts the worker pool.
func New(d Deps) (*Orchestrator, error) {
	if d.Artifacts == nil || d.Encoder == nil {
		return nil, errors.Internal("artifact store and encoder are required")
	}
	if d.Workers <= 0 {
		d.Workers = 1
	}
	if d.QueueDepth <= 0 {
		d.QueueDepth = 1024
	}
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	o := &Orchestrator{
		artifacts: d.Artifacts,
		encoder:   d.Encoder,
		renderer:  d.Renderer,
		publisher: d.Publisher,
		history:   d.History,
		log:       log.WithComponent("export"),
		jobs:      make(map[string]*Job),
		cancels:   make(map[string]context.CancelFunc),
		tasks:     make(chan string, d.QueueDepth),
	}
	for i := 0; i < d.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o, nil
}

// QueueExport validates the request, resolves the preset, renders an
// inline timeline synchronously when present, then enqueues the encode.
// Validation or render failure leaves no job record behind.
func (o *Orchestrator) QueueExport(ctx context.Context, req Request) (string, error) {
	hasFile := strings.TrimSpace(req.InputFile) != ""
	hasTimeline := req.Timeline != nil
	if hasFile == hasTimeline {
		return "", errors.Validation("exactly one of input_file or timeline must be provided")
	}

	preset, err := LookupPreset(req.PresetName)
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf("exp_%s", uuid.NewString())
	return o.queueJob(ctx, req, preset, id)
}

// EnqueueTask is the fleet-mode entry point: the submitting process
// pre-assigns the job id so both sides of the queue agree on identity.
func (o *Orchestrator) EnqueueTask(ctx context.Context, task Task) (string, error) {
	req := task.Request
	hasFile := strings.TrimSpace(req.InputFile) != ""
	if hasFile == (req.Timeline != nil) {
		return "", errors.Validation("exactly one of input_file or timeline must be provided")
	}
	preset, err := LookupPreset(req.PresetName)
	if err != nil {
		return "", err
	}
	id := task.ID
	if id == "" {
		id = fmt.Sprintf("exp_%s", uuid.NewString())
	}
	if task.CorrelationID != "" {
		ctx = logger.ContextWithCorrelationID(ctx, task.CorrelationID)
	}
	return o.queueJob(ctx, req, preset, id)
}

func (o *Orchestrator) queueJob(ctx context.Context, req Request, preset Preset, id string) (string, error) {
	// Validate before touching the filesystem so a rejected submission
	// leaves no job directory behind.
	if req.Timeline != nil {
		if o.renderer == nil {
			return "", errors.IllegalState("timeline exports are not supported: no renderer configured")
		}
		if err := req.Timeline.Validate(); err != nil {
			return "", err
		}
	} else if _, err := os.Stat(req.InputFile); err != nil {
		return "", errors.ValidationField("input_file", "input file does not exist: "+req.InputFile)
	}

	dir, err := o.artifacts.JobDir(id)
	if err != nil {
		return "", err
	}
	input := req.InputFile
	if req.Timeline != nil {
		// Rendered synchronously so a bad timeline fails the submission,
		// not a worker later.
		input = filepath.Join(dir, "timeline_input."+preset.Container)
		if err := o.renderer.GenerateFinal(ctx, req.Timeline, preset.RenderSpec(), input, nil); err != nil {
			return "", errors.Wrap(err, "export.queue", "timeline render failed")
		}
	}

	platform := req.TargetPlatform
	if platform == "" {
		platform = preset.Platform
	}
	job := &Job{
		ID:             id,
		Status:         StatusQueued,
		InputFile:      input,
		OutputFile:     filepath.Join(dir, outputName(preset)),
		Preset:         preset,
		TargetPlatform: platform,
		CorrelationID:  logger.CorrelationIDFromContext(ctx),
		CreatedAt:      time.Now().UTC(),
	}
	return o.enqueue(job)
}

// RetryJob builds a brand-new job from a failed one's frozen inputs. The
// original record is never mutated.
func (o *Orchestrator) RetryJob(failedJobID string) (string, error) {
	o.mu.RLock()
	src, ok := o.jobs[failedJobID]
	if !ok {
		o.mu.RUnlock()
		return "", errors.NotFound("export job", failedJobID)
	}
	if src.Status != StatusFailed {
		o.mu.RUnlock()
		return "", errors.IllegalStatef("only failed jobs can be retried, job is %s", src.Status)
	}
	clone := src.clone()
	o.mu.RUnlock()

	job := &Job{
		ID:             fmt.Sprintf("exp_%s", uuid.NewString()),
		Status:         StatusQueued,
		InputFile:      clone.InputFile,
		OutputFile:     clone.OutputFile,
		Preset:         clone.Preset,
		TargetPlatform: clone.TargetPlatform,
		CorrelationID:  clone.CorrelationID,
		CreatedAt:      time.Now().UTC(),
	}
	return o.enqueue(job)
}

func (o *Orchestrator) enqueue(job *Job) (string, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", errors.New(errors.CodeUnavailable, "export orchestrator is shutting down")
	}
	// Send before recording, all under the lock: Close cannot close the
	// channel between the closed check and the send, and a full queue
	// rejects the job with no bookkeeping to undo.
	select {
	case o.tasks <- job.ID:
	default:
		o.mu.Unlock()
		return "", errors.New(errors.CodeUnavailable, "export queue is full")
	}
	o.jobs[job.ID] = job
	o.order = append(o.order, job.ID)
	o.mu.Unlock()

	o.log.WithJobID(job.ID).Info("export queued", "preset", job.Preset.Name)
	return job.ID, nil
}

// GetJobStatus returns a point-in-time snapshot.
func (o *Orchestrator) GetJobStatus(jobID string) (*Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// GetActiveJobs lists queued and running jobs, most-recent-first.
func (o *Orchestrator) GetActiveJobs() []*Job {
	return o.list(0, func(j *Job) bool { return !j.Status.Terminal() })
}

// GetHistory lists terminal jobs most-recent-first, optionally filtered by
// status, bounded by limit.
func (o *Orchestrator) GetHistory(status Status, limit int) []*Job {
	return o.list(limit, func(j *Job) bool {
		if !j.Status.Terminal() {
			return false
		}
		return status == "" || j.Status == status
	})
}

func (o *Orchestrator) list(limit int, keep func(*Job) bool) []*Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Job, 0)
	for i := len(o.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if j := o.jobs[o.order[i]]; keep(j) {
			out = append(out, j.clone())
		}
	}
	return out
}

// CancelJob requests cancellation. A queued job not yet claimed by a
// worker transitions directly to Cancelled; a running one has its encode
// context cancelled. Terminal and unknown jobs return false untouched.
func (o *Orchestrator) CancelJob(jobID string) bool {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok || job.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	cancel := o.cancels[jobID]
	if job.Status == StatusQueued && cancel == nil {
		now := time.Now().UTC()
		job.Status = StatusCancelled
		job.CompletedAt = &now
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// Close stops accepting work and waits for in-flight encodes. Running
// jobs are not cancelled here; process shutdown kills their subprocesses
// through the process tracker.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.tasks)
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for id := range o.tasks {
		o.run(id)
	}
}

// run executes one claimed job to a terminal status.
func (o *Orchestrator) run(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now().UTC()
	claimed := false
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if ok && job.Status == StatusQueued {
		job.Status = StatusRunning
		job.StartedAt = &now
		o.cancels[jobID] = cancel
		claimed = true
	}
	o.mu.Unlock()
	if !claimed {
		// Cancelled before any worker got to it.
		return
	}

	if job.CorrelationID != "" {
		ctx = logger.ContextWithCorrelationID(ctx, job.CorrelationID)
	}
	ctx = logger.ContextWithJobID(ctx, jobID)
	log := o.log.FromContext(ctx)
	log.Info("export started", "preset", job.Preset.Name, "input", job.InputFile)

	snapshot, _ := o.GetJobStatus(jobID)
	err := o.encoder.Transcode(ctx, snapshot.InputFile, snapshot.OutputFile, snapshot.Preset.RenderSpec(), func(frac float64) {
		o.mutate(jobID, func(j *Job) {
			if frac > j.Progress {
				j.Progress = frac
			}
		})
	})

	done := time.Now().UTC()
	switch {
	case err != nil && (ctx.Err() != nil || errors.IsCode(err, errors.CodeCanceled)):
		o.mutate(jobID, func(j *Job) {
			j.Status = StatusCancelled
			j.CompletedAt = &done
		})
		log.Info("export cancelled")
	case err != nil:
		o.mutate(jobID, func(j *Job) {
			j.Status = StatusFailed
			j.CompletedAt = &done
			j.ErrorMessage = err.Error()
		})
		log.Error("export failed", "error", err.Error())
	default:
		key := o.publish(ctx, snapshot.OutputFile, log)
		o.mutate(jobID, func(j *Job) {
			j.Status = StatusCompleted
			j.Progress = 1.0
			j.CompletedAt = &done
			j.PublishedKey = key
		})
		log.Info("export completed", "output", snapshot.OutputFile)
	}

	o.mu.Lock()
	delete(o.cancels, jobID)
	o.mu.Unlock()

	o.record(ctx, jobID, log)
}

// publish uploads the finished output through the configured storage
// provider. Publish failure is a warning, not a job failure: the local
// output is still valid.
func (o *Orchestrator) publish(ctx context.Context, outputFile string, log *logger.Logger) string {
	if o.publisher == nil {
		return ""
	}
	f, err := os.Open(outputFile)
	if err != nil {
		log.Warn("publish skipped, cannot open output", "error", err.Error())
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Warn("publish skipped, cannot stat output", "error", err.Error())
		return ""
	}
	out, err := o.publisher.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   "exports/" + filepath.Base(outputFile),
		ContentType: "video/mp4",
		Reader:      f,
		Size:        info.Size(),
	})
	if err != nil {
		log.Warn("publish failed", "provider", o.publisher.Provider(), "error", err.Error())
		return ""
	}
	log.Info("output published", "provider", o.publisher.Provider(), "key", out.ObjectKey)
	return out.ObjectKey
}

// record persists the terminal job to the history store, best-effort.
func (o *Orchestrator) record(ctx context.Context, jobID string, log *logger.Logger) {
	if o.history == nil {
		return
	}
	snapshot, ok := o.GetJobStatus(jobID)
	if !ok || !snapshot.Status.Terminal() {
		return
	}
	if err := o.history.RecordExport(ctx, snapshot); err != nil {
		log.Warn("history record failed", "error", err.Error())
	}
}

func (o *Orchestrator) mutate(jobID string, fn func(*Job)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[jobID]; ok {
		fn(job)
	}
}

func outputName(p Preset) string {
	name := strings.ToLower(strings.ReplaceAll(p.Name, " ", "_"))
	return fmt.Sprintf("export_%s.%s", name, p.Container)
}
