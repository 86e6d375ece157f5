package storage

import (
	"context"
	"time"
)

// Exchange is one completed request/response pair.
type Exchange struct {
	// ID is the gateway-side response identifier (msg_...).
	ID string

	// Vendor is the requesting client's protocol ("anthropic", "openai",
	// "gemini").
	Vendor string

	// Model is the requested model name.
	Model string

	// Provider is the backend that served the request.
	Provider string

	// Prompt is the flattened request text.
	Prompt string

	// Completion is the final response text.
	Completion string

	// InputTokens and OutputTokens are the recorded usage.
	InputTokens  int
	OutputTokens int

	// Streamed marks exchanges served over a streaming response.
	Streamed bool

	// CreatedAt is when the exchange completed.
	CreatedAt time.Time
}

// ListOptions filters and pages exchange listings.
type ListOptions struct {
	// Model filters by model name when non-empty.
	Model string

	// Limit caps the number of returned exchanges. Zero means the
	// implementation default.
	Limit int
}

// Store persists completed exchanges.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveExchange persists one completed exchange.
	SaveExchange(ctx context.Context, ex *Exchange) error

	// GetExchange retrieves an exchange by ID. Returns ErrNotFound if it
	// does not exist or belongs to another tenant.
	GetExchange(ctx context.Context, id string) (*Exchange, error)

	// ListExchanges returns exchanges newest first.
	ListExchanges(ctx context.Context, opts ListOptions) ([]*Exchange, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
