package pipeline

import (
	"time"

	"vidforge/internal/artifacts"
	"vidforge/internal/media"
)

// Step is a checkpointable sub-unit of the pipeline. Weight is the step's
// share of overall progress, assigned per step type rather than measured.
type Step struct {
	Name        string     `json:"name"`
	Stage       string     `json:"stage"`
	Status      StepStatus `json:"status"`
	Weight      int        `json:"weight"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Message is one structured entry of a job's error or warning list.
type Message struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Job is a unit of end-to-end generation work. Records are mutated only by
// the runner goroutine that owns them; every read handed out is a deep
// snapshot.
type Job struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id,omitempty"`

	Status  Status `json:"status"`
	Stage   string `json:"stage,omitempty"`
	Steps   []Step `json:"steps"`
	Percent int    `json:"percent"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`

	Errors   []Message `json:"errors,omitempty"`
	Warnings []Message `json:"warnings,omitempty"`
	// ErrorMessage is the first fatal error, for quick display.
	ErrorMessage string `json:"error_message,omitempty"`

	CanResume         bool   `json:"can_resume"`
	LastCompletedStep string `json:"last_completed_step,omitempty"`

	Artifacts []artifacts.Artifact `json:"artifacts,omitempty"`

	Brief Brief            `json:"brief"`
	Plan  PlanSpec         `json:"plan"`
	Spec  media.RenderSpec `json:"spec"`
}

func (j *Job) clone() *Job {
	cp := *j
	cp.Steps = append([]Step(nil), j.Steps...)
	cp.Errors = append([]Message(nil), j.Errors...)
	cp.Warnings = append([]Message(nil), j.Warnings...)
	cp.Artifacts = append([]artifacts.Artifact(nil), j.Artifacts...)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.CanceledAt = cloneTime(j.CanceledAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// weightedPercent computes progress from completed step weights plus a
// fractional estimate for the running step.
func (j *Job) weightedPercent(runningStepFraction float64) int {
	var total, done int
	var runningWeight int
	for _, st := range j.Steps {
		total += st.Weight
		switch st.Status {
		case StepSucceeded, StepSkipped:
			done += st.Weight
		case StepRunning:
			runningWeight = st.Weight
		}
	}
	if total == 0 {
		return 0
	}
	pct := (float64(done) + runningStepFraction*float64(runningWeight)) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return int(pct)
}
