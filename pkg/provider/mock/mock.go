// Package mock provides a scripted in-memory provider for tests and local
// wiring. It never touches the network.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/polygate/polygate/pkg/api"
	"github.com/polygate/polygate/pkg/provider"
)

// Provider returns canned output. Configure the fields before use; the zero
// value answers every request with an empty completion.
type Provider struct {
	// ProviderName is reported by Name(). Defaults to "mock".
	ProviderName string

	// ServedModels restricts the models this provider claims to serve.
	ServedModels []string

	// InvocationMode is reported by Mode(). Defaults to Synchronous.
	InvocationMode provider.InvocationMode

	// Text is the full completion for Invoke.
	Text string

	// Chunks is the scripted delta sequence for Stream. When empty, Text
	// is emitted as a single delta.
	Chunks []string

	// Err, when set, fails every call.
	Err error

	// Invocations counts Invoke and Stream calls.
	Invocations atomic.Int64
}

var _ provider.Provider = (*Provider)(nil)

func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

func (p *Provider) Mode() provider.InvocationMode { return p.InvocationMode }
func (p *Provider) Models() []string              { return p.ServedModels }

func (p *Provider) Invoke(ctx context.Context, req *api.Request) (*api.Response, error) {
	p.Invocations.Add(1)
	if p.Err != nil {
		return nil, p.Err
	}
	return &api.Response{
		ID:         api.NewMessageID(),
		Model:      req.ModelHint,
		Parts:      []api.ContentPart{api.TextPart(p.Text)},
		StopReason: api.StopEndTurn,
		Usage: api.Usage{
			InputTokens:  api.EstimateRequestTokens(req),
			OutputTokens: api.EstimateTokens(p.Text),
		},
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req *api.Request) (<-chan api.Event, error) {
	p.Invocations.Add(1)
	if p.Err != nil {
		return nil, p.Err
	}
	chunks := p.Chunks
	if len(chunks) == 0 && p.Text != "" {
		chunks = []string{p.Text}
	}

	ch := make(chan api.Event, len(chunks)+2)
	ch <- api.StartedEvent(api.NewMessageID(), req.ModelHint)
	var out int
	for _, c := range chunks {
		ch <- api.DeltaEvent(c)
		out += api.EstimateTokens(c)
	}
	ch <- api.StoppedEvent(api.StopEndTurn, &api.Usage{
		InputTokens:  api.EstimateRequestTokens(req),
		OutputTokens: out,
	})
	close(ch)
	return ch, nil
}

func (p *Provider) Close() error { return nil }
