package pipeline

import (
	"strings"

	"vidforge/internal/pkg/errors"
)

// Status is the lifecycle state of a generation job. The transition table
// below is the single definition of the legal state machine; the external
// string projection and the legacy aliases live here too so they cannot
// drift apart.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// transitions is the DAG of legal edges. Terminal states have none.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCanceled},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusCanceled},
}

// Terminal reports whether the status has no outgoing edges.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the edge s -> to is legal.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// String returns the external projection of the status.
func (s Status) String() string { return string(s) }

// ParseStatus parses an external status string, accepting the legacy
// aliases ("done" for succeeded, "cancelled" for canceled) at the boundary
// only.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending":
		return StatusQueued, nil
	case "running":
		return StatusRunning, nil
	case "succeeded", "done":
		return StatusSucceeded, nil
	case "failed":
		return StatusFailed, nil
	case "canceled", "cancelled":
		return StatusCanceled, nil
	default:
		return "", errors.Validationf("unknown job status %q", raw)
	}
}

// StepStatus is the lifecycle state of a single pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)
