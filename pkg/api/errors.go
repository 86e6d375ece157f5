package api

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of gateway errors. Every error that
// reaches a client is classified as exactly one kind; the codec layer maps
// kinds onto each vendor's error envelope.
type ErrorKind string

const (
	// KindConversion marks a malformed vendor payload. Surfaced as a 4xx
	// before any backend call, never retried.
	KindConversion ErrorKind = "conversion_error"

	// KindProviderUnavailable means no healthy provider matches the request.
	KindProviderUnavailable ErrorKind = "provider_unavailable"

	// KindRateLimited means a backend signaled throttling and internal
	// retries were exhausted.
	KindRateLimited ErrorKind = "rate_limited"

	// KindJobFailed means the backend reported a job failure.
	KindJobFailed ErrorKind = "job_failed"

	// KindJobTimeout means the wall-clock budget expired while polling.
	// Deliberately distinct from KindJobFailed.
	KindJobTimeout ErrorKind = "job_timeout"

	// KindInternal marks an unexpected defect. Logged in full, surfaced
	// to clients without internal detail.
	KindInternal ErrorKind = "internal_error"
)

// GatewayError is the structured error used across the gateway core.
type GatewayError struct {
	Kind    ErrorKind `json:"kind"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`

	wrapped error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Kind, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *GatewayError) Unwrap() error {
	return e.wrapped
}

// WithCause attaches an underlying error and returns the receiver.
func (e *GatewayError) WithCause(err error) *GatewayError {
	e.wrapped = err
	return e
}

// NewConversionError reports a malformed vendor payload, naming the
// offending field.
func NewConversionError(param, message string) *GatewayError {
	return &GatewayError{Kind: KindConversion, Param: param, Message: message}
}

// NewProviderUnavailableError reports that no healthy provider can serve
// the request.
func NewProviderUnavailableError(message string) *GatewayError {
	return &GatewayError{Kind: KindProviderUnavailable, Message: message}
}

// NewRateLimitedError reports exhausted throttling retries.
func NewRateLimitedError(message string) *GatewayError {
	return &GatewayError{Kind: KindRateLimited, Message: message}
}

// NewJobFailedError reports a backend-declared job failure.
func NewJobFailedError(message string) *GatewayError {
	return &GatewayError{Kind: KindJobFailed, Message: message}
}

// NewJobTimeoutError reports an expired polling budget.
func NewJobTimeoutError(message string) *GatewayError {
	return &GatewayError{Kind: KindJobTimeout, Message: message}
}

// NewInternalError reports an unexpected defect.
func NewInternalError(message string) *GatewayError {
	return &GatewayError{Kind: KindInternal, Message: message}
}

// AsGatewayError extracts a *GatewayError from an error chain. Errors that
// carry no GatewayError classify as KindInternal with a generic message so
// that internal detail never leaks to clients.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewInternalError("internal server error").WithCause(err)
}
