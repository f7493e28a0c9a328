// Package pipeline implements the generation job runner: job records, the
// staged execution model with durable checkpoints, cooperative cancellation
// and explicit resume.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidforge/internal/artifacts"
	"vidforge/internal/media"
	"vidforge/internal/pkg/errors"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/timeline"
)

// TimelineRenderer is the slice of the renderer the runner needs for its
// final stage. Satisfied by render.Renderer.
type TimelineRenderer interface {
	GenerateFinal(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error
}

// Deps declares the runner's collaborators. Artifacts, Timelines, Renderer
// and Providers.Script are required; Narration and Visuals are optional and
// their steps are skipped when absent.
type Deps struct {
	Artifacts *artifacts.Store
	Timelines *timeline.Store
	Renderer  TimelineRenderer
	Providers Providers
	// VisualConcurrency bounds the visuals fan-out. Defaults to 2.
	VisualConcurrency int
	Log               *logger.Logger
}

// Runner owns generation job records and executes them asynchronously.
type Runner struct {
	artifacts *artifacts.Store
	timelines *timeline.Store
	renderer  TimelineRenderer
	providers Providers
	budget    int
	log       *logger.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	order   []string

	// wg tracks in-flight executions for clean shutdown in tests.
	wg sync.WaitGroup
}

// NewRunner validates the declared collaborators up front so missing
// capabilities fail at construction, not mid-pipeline.
func NewRunner(d Deps) (*Runner, error) {
	if d.Artifacts == nil || d.Timelines == nil || d.Renderer == nil {
		return nil, errors.Internal("artifact store, timeline store and renderer are required")
	}
	if d.Providers.Script == nil {
		return nil, errors.Internal("script generator is a required collaborator")
	}
	if d.VisualConcurrency <= 0 {
		d.VisualConcurrency = 2
	}
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Runner{
		artifacts: d.Artifacts,
		timelines: d.Timelines,
		renderer:  d.Renderer,
		providers: d.Providers,
		budget:    d.VisualConcurrency,
		log:       log.WithComponent("pipeline"),
		jobs:      make(map[string]*Job),
		cancels:   make(map[string]context.CancelFunc),
	}, nil
}

// Submit creates a job in Queued status and schedules asynchronous
// execution. It never blocks on pipeline work.
func (r *Runner) Submit(ctx context.Context, brief Brief, plan PlanSpec, spec media.RenderSpec) (string, error) {
	if brief.Topic == "" {
		return "", errors.ValidationField("topic", "brief topic is required")
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	job := &Job{
		ID:            fmt.Sprintf("job_%s", uuid.NewString()),
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		Status:        StatusQueued,
		Steps:         defaultSteps(),
		CreatedAt:     time.Now().UTC(),
		Brief:         brief,
		Plan:          plan,
		Spec:          spec,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	r.mu.Unlock()

	r.start(job.ID, false)
	return job.ID, nil
}

// Resume re-enters a Failed or Canceled job as a new attempt, skipping
// steps up to and including LastCompletedStep. Resumption is always an
// explicit caller instruction, never automatic.
func (r *Runner) Resume(jobID string) error {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return errors.NotFound("job", jobID)
	}
	if job.Status != StatusFailed && job.Status != StatusCanceled {
		r.mu.Unlock()
		return errors.IllegalStatef("cannot resume job in status %s", job.Status)
	}
	if !job.CanResume {
		r.mu.Unlock()
		return errors.IllegalState("job has no durable checkpoint to resume from")
	}

	// New attempt: re-enter Queued, keep completed steps, reset the rest.
	job.Status = StatusQueued
	job.CompletedAt = nil
	job.CanceledAt = nil
	job.ErrorMessage = ""
	job.Stage = ""
	job.CanResume = false
	for i := range job.Steps {
		// Skipped covers both missing-provider skips and steps abandoned
		// after a failure; both are re-evaluated on the new attempt.
		if job.Steps[i].Status != StepSucceeded {
			job.Steps[i].Status = StepPending
			job.Steps[i].StartedAt = nil
			job.Steps[i].CompletedAt = nil
		}
	}
	r.mu.Unlock()

	r.artifacts.Unseal(jobID)
	r.start(jobID, true)
	return nil
}

// GetJob returns a consistent point-in-time snapshot.
func (r *Runner) GetJob(jobID string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// ListJobs returns snapshots most-recent-first, bounded by limit.
func (r *Runner) ListJobs(limit int) []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.order) {
		limit = len(r.order)
	}
	out := make([]*Job, 0, limit)
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.jobs[r.order[i]].clone())
	}
	return out
}

// CancelJob requests cooperative cancellation. Returns false when the job
// does not exist or is already terminal; a terminal job is left untouched.
func (r *Runner) CancelJob(jobID string) bool {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	cancel := r.cancels[jobID]
	queued := job.Status == StatusQueued
	if queued && cancel == nil {
		// Never dispatched: cancel directly without waiting for a runner.
		now := time.Now().UTC()
		job.Status = StatusCanceled
		job.CanceledAt = &now
		job.CanResume = job.LastCompletedStep != ""
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if queued && cancel == nil {
		r.artifacts.Seal(jobID)
	}
	return true
}

// Wait blocks until all in-flight executions finish. Test helper and
// shutdown hook.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) start(jobID string, resume bool) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	job := r.jobs[jobID]
	if job.CorrelationID != "" {
		ctx = logger.ContextWithCorrelationID(ctx, job.CorrelationID)
	}
	ctx = logger.ContextWithJobID(ctx, jobID)
	r.cancels[jobID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.execute(ctx, jobID, resume)
	}()
}

// execute runs steps strictly in declared order, checkpointing after each
// one. It is the only goroutine mutating the job while it runs.
func (r *Runner) execute(ctx context.Context, jobID string, resume bool) {
	log := r.log.FromContext(ctx)

	started := false
	now := time.Now().UTC()
	r.mutate(jobID, func(j *Job) {
		if !j.Status.CanTransitionTo(StatusRunning) {
			return
		}
		j.Status = StatusRunning
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		started = true
	})
	if !started {
		// Canceled between Submit and dispatch.
		return
	}

	dir, err := r.artifacts.JobDir(jobID)
	if err != nil {
		r.finishFailed(jobID, err)
		return
	}

	snapshot, _ := r.GetJob(jobID)
	st := &execState{job: snapshot, dir: dir}

	if resume && snapshot.LastCompletedStep != "" {
		if err := r.loadCheckpointState(st); err != nil {
			r.finishFailed(jobID, err)
			return
		}
		log.Info("resuming job", "after_step", snapshot.LastCompletedStep)
	}

	for i, step := range snapshot.Steps {
		if step.Status == StepSucceeded || step.Status == StepSkipped {
			continue
		}
		if ctx.Err() != nil {
			r.finishCanceled(jobID, step.Name)
			return
		}

		if skip, reason := r.stepUnavailable(step.Name); skip {
			r.mutate(jobID, func(j *Job) {
				j.Steps[i].Status = StepSkipped
				j.Warnings = append(j.Warnings, Message{At: time.Now().UTC(), Text: reason})
				j.Percent = maxInt(j.Percent, j.weightedPercent(0))
			})
			continue
		}

		stepStart := time.Now().UTC()
		r.mutate(jobID, func(j *Job) {
			j.Stage = step.Stage
			j.Steps[i].Status = StepRunning
			j.Steps[i].StartedAt = &stepStart
		})
		log.Info("step started", "step", step.Name, "stage", step.Stage)

		err := r.runStep(ctx, step.Name, st)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.IsCode(err, errors.CodeCanceled) {
				r.mutate(jobID, func(j *Job) { j.Steps[i].Status = StepPending; j.Steps[i].StartedAt = nil })
				r.finishCanceled(jobID, step.Name)
				return
			}
			r.mutate(jobID, func(j *Job) {
				done := time.Now().UTC()
				j.Steps[i].Status = StepFailed
				j.Steps[i].CompletedAt = &done
				for k := i + 1; k < len(j.Steps); k++ {
					j.Steps[k].Status = StepSkipped
				}
			})
			log.Error("step failed", "step", step.Name, "error", err.Error())
			r.finishFailed(jobID, err)
			return
		}

		// Checkpoint: the step's outputs are flushed to the artifact store,
		// so a later attempt may restart after this step.
		done := time.Now().UTC()
		r.mutate(jobID, func(j *Job) {
			j.Steps[i].Status = StepSucceeded
			j.Steps[i].CompletedAt = &done
			j.LastCompletedStep = step.Name
			j.Percent = maxInt(j.Percent, j.weightedPercent(0))
			j.Artifacts = r.artifacts.List(jobID)
		})
		log.Info("step completed", "step", step.Name)
	}

	completed := time.Now().UTC()
	r.mutate(jobID, func(j *Job) {
		j.Status = StatusSucceeded
		j.CompletedAt = &completed
		j.Percent = 100
		j.Stage = ""
		j.CanResume = false
		j.Artifacts = r.artifacts.List(jobID)
	})
	r.artifacts.Seal(jobID)
	log.Info("job succeeded")
}

func (r *Runner) runStep(ctx context.Context, name string, st *execState) error {
	switch name {
	case "script":
		return r.runScript(ctx, st)
	case "narration":
		return r.runNarration(ctx, st)
	case "visuals":
		return r.runVisuals(ctx, st)
	case "composition":
		return r.runComposition(ctx, st)
	case "render":
		return r.runRender(ctx, st)
	default:
		return errors.Internalf("unknown step %q", name)
	}
}

// stepUnavailable reports steps whose optional collaborator is absent.
func (r *Runner) stepUnavailable(name string) (bool, string) {
	switch name {
	case "narration":
		if r.providers.Narration == nil {
			return true, "narration synthesizer not configured, step skipped"
		}
	case "visuals":
		if r.providers.Visuals == nil {
			return true, "visual generator not configured, step skipped"
		}
	}
	return false, ""
}

func (r *Runner) finishFailed(jobID string, cause error) {
	now := time.Now().UTC()
	r.mutate(jobID, func(j *Job) {
		j.Status = StatusFailed
		j.CompletedAt = &now
		j.Errors = append(j.Errors, Message{At: now, Text: cause.Error()})
		if j.ErrorMessage == "" {
			j.ErrorMessage = cause.Error()
		}
		// Resumability is decided only at termination: the job must have
		// reached at least one durable checkpoint.
		j.CanResume = j.LastCompletedStep != ""
		j.Artifacts = r.artifacts.List(jobID)
	})
	r.artifacts.Seal(jobID)
}

func (r *Runner) finishCanceled(jobID, atStep string) {
	now := time.Now().UTC()
	r.mutate(jobID, func(j *Job) {
		j.Status = StatusCanceled
		j.CanceledAt = &now
		j.CanResume = j.LastCompletedStep != ""
		j.Artifacts = r.artifacts.List(jobID)
	})
	r.artifacts.Seal(jobID)
	r.log.WithJobID(jobID).Info("job canceled", "at_step", atStep)
}

// reportStepProgress folds a running step's fractional progress into the
// job percent, preserving monotonicity.
func (r *Runner) reportStepProgress(jobID string, frac float64) {
	r.mutate(jobID, func(j *Job) {
		j.Percent = maxInt(j.Percent, j.weightedPercent(frac))
	})
}

func (r *Runner) appendWarning(jobID, text string) {
	r.mutate(jobID, func(j *Job) {
		j.Warnings = append(j.Warnings, Message{At: time.Now().UTC(), Text: text})
	})
}

// mutate applies fn to the stored record under the write lock. All writes
// funnel through here so readers always observe a complete snapshot.
func (r *Runner) mutate(jobID string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobID]; ok {
		fn(job)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
