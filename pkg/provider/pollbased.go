package provider

import (
	"context"

	"github.com/polygate/polygate/pkg/api"
	"github.com/polygate/polygate/pkg/codec"
	"github.com/polygate/polygate/pkg/observability"
	"github.com/polygate/polygate/pkg/poll"
)

// PollBasedProvider adapts a job-execution backend to the Provider
// interface. Requests are flattened to a plain prompt, submitted as a job,
// and polled to completion; streaming is emulated by the poller's
// partial-result diffing.
type PollBasedProvider struct {
	name   string
	models []string
	poller *poll.Poller
}

var _ Provider = (*PollBasedProvider)(nil)

// NewPollBased creates a provider driving the backend with a poller tuned
// by opts.
func NewPollBased(name string, models []string, backend poll.Backend, opts poll.Options) *PollBasedProvider {
	return &PollBasedProvider{
		name:   name,
		models: models,
		poller: poll.New(backend, opts),
	}
}

func (p *PollBasedProvider) Name() string         { return p.name }
func (p *PollBasedProvider) Mode() InvocationMode { return PollBased }
func (p *PollBasedProvider) Models() []string     { return p.models }

// recordRun folds one finished poller run into the poll counters.
func (p *PollBasedProvider) recordRun(job *poll.Job) {
	if job == nil {
		return
	}
	if job.Attempt > 0 {
		observability.PollAttemptsTotal.WithLabelValues(p.name).Add(float64(job.Attempt))
	}
	outcome := "failed"
	switch job.State {
	case poll.StateComplete:
		outcome = "complete"
	case poll.StateTimedOut:
		outcome = "timed_out"
	}
	observability.PollOutcomesTotal.WithLabelValues(p.name, outcome).Inc()
}

// Invoke runs the job to completion, collecting the poller's deltas into a
// single response.
func (p *PollBasedProvider) Invoke(ctx context.Context, req *api.Request) (*api.Response, error) {
	events, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return CollectStream(ctx, events)
}

// Stream runs the job while forwarding partial-result deltas as they are
// discovered. The channel closes after the terminal event.
func (p *PollBasedProvider) Stream(ctx context.Context, req *api.Request) (<-chan api.Event, error) {
	prompt := codec.FlattenPrompt(req)
	ch := make(chan api.Event, 16)

	go func() {
		defer close(ch)
		ch <- api.StartedEvent(api.NewMessageID(), req.ModelHint)

		job, gerr := p.poller.Run(ctx, prompt, req.ModelHint, func(delta string) {
			select {
			case ch <- api.DeltaEvent(delta):
			case <-ctx.Done():
			}
		})
		p.recordRun(job)
		if gerr != nil {
			select {
			case ch <- api.ErrorEvent(gerr):
			case <-ctx.Done():
			}
			return
		}
		usage := &api.Usage{
			InputTokens:  api.EstimateRequestTokens(req),
			OutputTokens: api.EstimateTokens(job.Result),
		}
		select {
		case ch <- api.StoppedEvent(api.StopEndTurn, usage):
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// Close is a no-op; the backend owns its own connections.
func (p *PollBasedProvider) Close() error { return nil }
