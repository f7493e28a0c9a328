package export

import (
	"time"
)

// Status is the export job lifecycle. The vocabulary is intentionally
// distinct from the generation pipeline's ("completed"/"cancelled"
// spellings are part of the export API contract).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one unit of transcode/export work. Records are mutated only by
// the owning orchestrator; readers get snapshots.
type Job struct {
	ID             string  `json:"id"`
	Status         Status  `json:"status"`
	Progress       float64 `json:"progress"`
	InputFile      string  `json:"input_file"`
	OutputFile     string  `json:"output_file"`
	Preset         Preset  `json:"preset"`
	TargetPlatform string  `json:"target_platform"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	// PublishedKey is set when a storage provider accepted the output.
	PublishedKey string `json:"published_key,omitempty"`

	CorrelationID string     `json:"correlation_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// EstimatedTimeRemaining extrapolates from elapsed encode time and current
// progress. Nil until the job is running with measurable progress; terminal
// jobs report nil.
func (j *Job) EstimatedTimeRemaining() *time.Duration {
	if j.Status != StatusRunning || j.StartedAt == nil || j.Progress <= 0 {
		return nil
	}
	elapsed := time.Since(*j.StartedAt)
	remaining := time.Duration(float64(elapsed) * (1 - j.Progress) / j.Progress)
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func (j *Job) clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
