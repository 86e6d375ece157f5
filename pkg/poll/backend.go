package poll

import (
	"context"
	"time"
)

// JobState is the backend-reported status of a submitted job.
type JobState string

const (
	JobPending     JobState = "pending"
	JobRunning     JobState = "running"
	JobComplete    JobState = "complete"
	JobFailed      JobState = "failed"
	JobRateLimited JobState = "rate_limited"
)

// Status is the fixed schema every job-execution backend reports. There is
// no field probing anywhere: result extraction is ExtractResult over exactly
// these fields.
type Status struct {
	// State is the backend-reported job state.
	State JobState

	// FullResult is the complete output, set once the job is done.
	FullResult string

	// PartialResult is the output produced so far, if the backend exposes
	// incremental progress. Empty means no partial support.
	PartialResult string

	// RetryAfter is the backend's throttling hint. Only meaningful with
	// JobRateLimited; zero means use the poller's fallback.
	RetryAfter time.Duration

	// Message carries the backend's error description on JobFailed.
	Message string
}

// Backend is the job-execution collaborator the poller drives.
type Backend interface {
	// Submit starts a job for the flattened prompt and returns the
	// backend's job identifier.
	Submit(ctx context.Context, prompt, model string) (string, error)

	// Status reports the current state of a previously submitted job.
	Status(ctx context.Context, jobID string) (Status, error)
}

// ExtractResult selects the final text from a completed status: the first
// non-empty candidate wins, in this order and no other.
func ExtractResult(st Status) string {
	if st.FullResult != "" {
		return st.FullResult
	}
	return st.PartialResult
}
