// Package poll drives a job-execution backend to completion.
//
// A Poller submits a prompt, then polls the backend's status endpoint with
// exponential backoff until the job finishes, times out, or the attempt
// budget runs out. While polling it emulates streaming by diffing the
// backend's partial result against the text already emitted, so poll-based
// backends look like native streams to the rest of the gateway.
package poll
