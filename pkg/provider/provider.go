package provider

import (
	"context"

	"github.com/polygate/polygate/pkg/api"
)

// InvocationMode describes how a backend produces output.
type InvocationMode int

const (
	// Synchronous backends answer one blocking call with the full result.
	Synchronous InvocationMode = iota

	// NativeStreaming backends push incremental output themselves.
	NativeStreaming

	// PollBased backends acknowledge a job and are polled to completion;
	// streaming is emulated by partial-result diffing.
	PollBased
)

// String returns the mode identifier used in logs and metrics labels.
func (m InvocationMode) String() string {
	switch m {
	case Synchronous:
		return "synchronous"
	case NativeStreaming:
		return "native_streaming"
	case PollBased:
		return "poll_based"
	default:
		return "unknown"
	}
}

// Provider is one inference backend.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the provider identifier (e.g., "vllm-pool-a").
	Name() string

	// Mode returns how this backend produces output.
	Mode() InvocationMode

	// Models lists the model names this provider can serve. An empty list
	// means any model.
	Models() []string

	// Invoke performs non-streaming inference.
	Invoke(ctx context.Context, req *api.Request) (*api.Response, error)

	// Stream performs streaming inference. The returned channel receives
	// canonical events in production order and is closed by the provider
	// after a terminal event or context cancellation.
	Stream(ctx context.Context, req *api.Request) (<-chan api.Event, error)

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}

// Serves reports whether the provider can handle the model. An empty model
// list means the provider serves anything.
func Serves(p Provider, model string) bool {
	models := p.Models()
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
