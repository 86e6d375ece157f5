package api

// EventType identifies the kind of a streaming event.
type EventType string

const (
	// EventStarted opens a stream. It precedes every Delta.
	EventStarted EventType = "started"

	// EventDelta carries an incremental text chunk.
	EventDelta EventType = "delta"

	// EventToolUseDelta carries incremental tool call data.
	EventToolUseDelta EventType = "tool_use_delta"

	// EventStopped terminates a stream normally.
	EventStopped EventType = "stopped"

	// EventError terminates a stream with a failure.
	EventError EventType = "error"
)

// Event is the universal streaming unit. Every vendor SSE framing is
// synthesized purely from a sequence of these events; codecs hold no
// backend-specific state.
//
// A well-formed stream is: Started, zero or more Delta/ToolUseDelta,
// then exactly one terminal event (Stopped or Error).
type Event struct {
	Type EventType `json:"type"`

	// Delta is the text chunk for EventDelta.
	Delta string `json:"delta,omitempty"`

	// ToolUse is populated for EventToolUseDelta.
	ToolUse *ToolUseDelta `json:"tool_use,omitempty"`

	// StopReason is populated for EventStopped.
	StopReason StopReason `json:"stop_reason,omitempty"`

	// Usage is populated on the terminal event when known.
	Usage *Usage `json:"usage,omitempty"`

	// Err is populated for EventError.
	Err *GatewayError `json:"error,omitempty"`

	// Model echoes the serving model, populated on EventStarted.
	Model string `json:"model,omitempty"`

	// ResponseID identifies the response, populated on EventStarted.
	ResponseID string `json:"response_id,omitempty"`
}

// ToolUseDelta is an incremental fragment of a tool invocation.
type ToolUseDelta struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"args_delta,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventStopped || e.Type == EventError
}

// StartedEvent builds the stream-opening event.
func StartedEvent(responseID, model string) Event {
	return Event{Type: EventStarted, ResponseID: responseID, Model: model}
}

// DeltaEvent builds a text chunk event.
func DeltaEvent(text string) Event {
	return Event{Type: EventDelta, Delta: text}
}

// StoppedEvent builds the normal terminal event.
func StoppedEvent(reason StopReason, usage *Usage) Event {
	return Event{Type: EventStopped, StopReason: reason, Usage: usage}
}

// ErrorEvent builds the failure terminal event.
func ErrorEvent(err *GatewayError) Event {
	return Event{Type: EventError, Err: err}
}
