package poll

import "github.com/google/uuid"

// State is the poller-side lifecycle of one job. Transitions are monotonic:
// Created → Polling → one of the terminal states, never backwards.
type State string

const (
	StateCreated  State = "created"
	StatePolling  State = "polling"
	StateComplete State = "complete"
	StateFailed   State = "failed"
	StateTimedOut State = "timed_out"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateTimedOut
}

// Job is the record for one submission. Each job is owned by exactly one
// poller run; nothing mutates it concurrently.
type Job struct {
	// ID is the gateway-side job identifier.
	ID string

	// BackendID is the identifier the backend returned on submission.
	BackendID string

	// State is the current lifecycle state.
	State State

	// Attempt counts non-terminal polls. Rate-limited responses do not
	// increment it.
	Attempt int

	// Accumulated is the text emitted as deltas so far.
	Accumulated string

	// Result is the extracted final text, set on StateComplete.
	Result string

	// FailureReason carries the backend error message on StateFailed.
	FailureReason string
}

// NewJob creates a job in StateCreated.
func NewJob() *Job {
	return &Job{ID: "job_" + uuid.NewString(), State: StateCreated}
}

// transition moves the job to next unless it already reached a terminal
// state. It reports whether the transition was applied.
func (j *Job) transition(next State) bool {
	if j.State.Terminal() {
		return false
	}
	j.State = next
	return true
}
