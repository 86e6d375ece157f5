package poll

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/polygate/polygate/pkg/api"
)

// Options tunes one Poller. The zero value is usable; unset fields take the
// defaults below. Now, Sleep, and Jitter exist so tests can run the state
// machine without real timers.
type Options struct {
	// BaseDelay is the first backoff delay. Defaults to 500ms.
	BaseDelay time.Duration

	// GrowthFactor multiplies the delay per attempt. Defaults to 1.3.
	GrowthFactor float64

	// CapDelay bounds a single backoff sleep. Defaults to 30s.
	CapDelay time.Duration

	// MaxAttempts bounds non-rate-limited polls before the job is failed
	// with a budget-exhausted reason. Defaults to 120.
	MaxAttempts int

	// Budget is the wall-clock limit for the whole run, submission
	// included. Defaults to 5m. It is enforced independently of CapDelay.
	Budget time.Duration

	// RetryFallback is the sleep after a rate-limited response that
	// carries no hint. Defaults to 2s.
	RetryFallback time.Duration

	// RetryBuffer is added on top of the backend's retry hint. Defaults
	// to 250ms.
	RetryBuffer time.Duration

	// Now reports the current time. Defaults to time.Now.
	Now func() time.Time

	// Sleep blocks for d or until the context is done. Defaults to a
	// timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter samples [0, 1) for the backoff band. Defaults to rand.Float64.
	Jitter func() float64

	// Logger receives poll-loop progress. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BaseDelay == 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.GrowthFactor == 0 {
		o.GrowthFactor = 1.3
	}
	if o.CapDelay == 0 {
		o.CapDelay = 30 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 120
	}
	if o.Budget == 0 {
		o.Budget = 5 * time.Minute
	}
	if o.RetryFallback == 0 {
		o.RetryFallback = 2 * time.Second
	}
	if o.RetryBuffer == 0 {
		o.RetryBuffer = 250 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepTimer
	}
	if o.Jitter == nil {
		o.Jitter = rand.Float64
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poller drives jobs on one backend.
type Poller struct {
	backend Backend
	opts    Options
}

// New creates a poller for the backend.
func New(backend Backend, opts Options) *Poller {
	return &Poller{backend: backend, opts: opts.withDefaults()}
}

// Run submits the prompt and polls the job to a terminal state. Incremental
// text is delivered through onDelta in emission order; the concatenation of
// all onDelta arguments equals the final result exactly once. On success the
// returned job is in StateComplete and carries the result; otherwise the
// returned error classifies the outcome (job_failed, job_timeout, rate
// limit exhaustion) and the job holds the terminal state reached.
func (p *Poller) Run(ctx context.Context, prompt, model string, onDelta func(string)) (*Job, *api.GatewayError) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	job := NewJob()
	start := p.opts.Now()
	deadline := start.Add(p.opts.Budget)
	log := p.opts.Logger.With("job_id", job.ID, "model", model)

	backendID, err := p.backend.Submit(ctx, prompt, model)
	if err != nil {
		job.transition(StateFailed)
		job.FailureReason = err.Error()
		return job, api.NewProviderUnavailableError("job submission failed").WithCause(err)
	}
	job.BackendID = backendID
	job.transition(StatePolling)
	log.Debug("job submitted", "backend_id", backendID)

	for {
		if ctx.Err() != nil {
			job.transition(StateFailed)
			return job, api.NewInternalError("poll cancelled").WithCause(ctx.Err())
		}
		if !p.opts.Now().Before(deadline) {
			job.transition(StateTimedOut)
			log.Warn("job timed out", "attempts", job.Attempt)
			return job, api.NewJobTimeoutError("job did not complete within the time budget")
		}

		st, err := p.backend.Status(ctx, backendID)
		if err != nil {
			// Transient transport failures consume an attempt like any
			// other non-terminal poll.
			log.Debug("status call failed", "error", err, "attempt", job.Attempt)
			if gerr := p.nextAttempt(ctx, job, deadline); gerr != nil {
				return job, gerr
			}
			continue
		}

		switch st.State {
		case JobComplete:
			result := ExtractResult(st)
			if result == "" && job.Accumulated == "" {
				job.transition(StateFailed)
				job.FailureReason = "backend reported completion with an empty result"
				return job, api.NewJobFailedError(job.FailureReason)
			}
			if result == "" {
				result = job.Accumulated
			}
			p.emitDiff(job, result, onDelta)
			job.transition(StateComplete)
			job.Result = result
			log.Debug("job complete", "attempts", job.Attempt, "result_len", len(result))
			return job, nil

		case JobFailed:
			msg := st.Message
			if msg == "" {
				msg = "backend reported job failure"
			}
			job.transition(StateFailed)
			job.FailureReason = msg
			log.Warn("job failed", "reason", msg, "attempts", job.Attempt)
			return job, api.NewJobFailedError(msg)

		case JobRateLimited:
			// Throttled polls sleep for the backend's hint plus a buffer
			// and do not consume an attempt.
			wait := st.RetryAfter
			if wait <= 0 {
				wait = p.opts.RetryFallback
			}
			wait += p.opts.RetryBuffer
			log.Debug("backend throttled", "wait", wait)
			if gerr := p.sleepBounded(ctx, job, wait, deadline); gerr != nil {
				return job, gerr
			}

		default:
			p.emitDiff(job, st.PartialResult, onDelta)
			if gerr := p.nextAttempt(ctx, job, deadline); gerr != nil {
				return job, gerr
			}
		}
	}
}

// emitDiff compares the backend's latest partial text against what has been
// emitted and delivers the difference. A prefix extension yields just the
// suffix; a replacement yields the whole new value and resets the baseline.
func (p *Poller) emitDiff(job *Job, partial string, onDelta func(string)) {
	if partial == "" || partial == job.Accumulated {
		return
	}
	if len(partial) > len(job.Accumulated) && partial[:len(job.Accumulated)] == job.Accumulated {
		onDelta(partial[len(job.Accumulated):])
	} else {
		onDelta(partial)
	}
	job.Accumulated = partial
}

// nextAttempt charges one poll attempt and sleeps the backoff delay. It
// returns a terminal error when the attempt budget is exhausted.
func (p *Poller) nextAttempt(ctx context.Context, job *Job, deadline time.Time) *api.GatewayError {
	delay := backoff(p.opts.BaseDelay, p.opts.GrowthFactor, job.Attempt, p.opts.CapDelay, p.opts.Jitter())
	job.Attempt++
	if job.Attempt >= p.opts.MaxAttempts {
		job.transition(StateFailed)
		job.FailureReason = fmt.Sprintf("poll budget exhausted after %d attempts", job.Attempt)
		return api.NewJobFailedError(job.FailureReason)
	}
	return p.sleepBounded(ctx, job, delay, deadline)
}

// sleepBounded sleeps at most until the wall-clock deadline; crossing the
// deadline forces StateTimedOut regardless of the requested delay.
func (p *Poller) sleepBounded(ctx context.Context, job *Job, d time.Duration, deadline time.Time) *api.GatewayError {
	if remaining := deadline.Sub(p.opts.Now()); d > remaining {
		if remaining > 0 {
			if err := p.opts.Sleep(ctx, remaining); err != nil {
				job.transition(StateFailed)
				return api.NewInternalError("poll cancelled").WithCause(err)
			}
		}
		job.transition(StateTimedOut)
		return api.NewJobTimeoutError("job did not complete within the time budget")
	}
	if err := p.opts.Sleep(ctx, d); err != nil {
		job.transition(StateFailed)
		return api.NewInternalError("poll cancelled").WithCause(err)
	}
	return nil
}
