package openaicompat

import "time"

// Config holds configuration for the OpenAI-compatible provider adapter.
type Config struct {
	// Name is the provider identifier reported to the router.
	Name string

	// BaseURL is the backend server URL (e.g., "http://localhost:8000").
	BaseURL string

	// APIKey for backend authentication (optional).
	APIKey string

	// Models restricts the models this provider serves. Empty means any.
	Models []string

	// Streaming marks the backend as NativeStreaming. When false the
	// provider reports Synchronous and Stream synthesizes events from a
	// blocking call.
	Streaming bool

	// Timeout for individual non-streaming HTTP requests. Defaults to 120s.
	Timeout time.Duration
}
