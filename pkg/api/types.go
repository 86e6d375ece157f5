package api

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
	PartImage      PartType = "image"
)

// ContentPart is a tagged union of the content kinds a turn can carry.
// Exactly one payload field matching Type is populated.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text is set for PartText parts.
	Text string `json:"text,omitempty"`

	// ToolUse is set for PartToolUse parts.
	ToolUse *ToolUseData `json:"tool_use,omitempty"`

	// ToolResult is set for PartToolResult parts.
	ToolResult *ToolResultData `json:"tool_result,omitempty"`

	// Image is set for PartImage parts.
	Image *ImageData `json:"image,omitempty"`
}

// ToolUseData describes a model-initiated tool invocation.
type ToolUseData struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultData carries the outcome of a tool invocation back to the model.
// Content is always normalized to plain text by the decoding codec, whatever
// shape it arrived in on the wire.
type ToolResultData struct {
	ToolID  string `json:"tool_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ImageData holds image content as opaque data. The gateway never inspects
// or transcodes it; codecs pass it through to backends that accept images.
type ImageData struct {
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// TextPart is a convenience constructor for a plain text part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// Turn is a single conversation turn: one author, ordered content parts.
type Turn struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// Text concatenates the text parts of a turn in order.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Generation holds sampling and length parameters. Pointer fields are
// omitted from the backend request when nil so backend defaults apply.
type Generation struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// Request is the canonical inference request all codecs decode into.
//
// Invariants maintained by codecs and CollapseSystem:
//   - turn ordering is preserved from the vendor payload
//   - at most one system turn is materialized, and it is the first turn
type Request struct {
	Turns      []Turn     `json:"turns"`
	Generation Generation `json:"generation"`
	ModelHint  string     `json:"model_hint,omitempty"`
}

// SystemText returns the text of the leading system turn, or "" if none.
func (r *Request) SystemText() string {
	if len(r.Turns) > 0 && r.Turns[0].Role == RoleSystem {
		return r.Turns[0].Text()
	}
	return ""
}

// CollapseSystem folds every system turn into a single leading system turn,
// concatenating their text with blank-line separators. Relative order of all
// non-system turns is preserved. A request without system turns is returned
// unchanged.
func (r *Request) CollapseSystem() {
	var systemTexts []string
	rest := r.Turns[:0]
	for _, turn := range r.Turns {
		if turn.Role == RoleSystem {
			if txt := turn.Text(); txt != "" {
				systemTexts = append(systemTexts, txt)
			}
			continue
		}
		rest = append(rest, turn)
	}
	if len(systemTexts) == 0 {
		r.Turns = rest
		return
	}
	system := Turn{Role: RoleSystem, Parts: []ContentPart{TextPart(strings.Join(systemTexts, "\n\n"))}}
	r.Turns = append([]Turn{system}, rest...)
}

// StopReason explains why generation ended.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
	StopError        StopReason = "error"
)

// Usage holds token accounting for one exchange. Counts are backend-supplied
// when available, otherwise estimated with EstimateTokens.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the canonical complete (non-streaming) result.
type Response struct {
	ID         string        `json:"id"`
	Model      string        `json:"model"`
	Parts      []ContentPart `json:"parts"`
	StopReason StopReason    `json:"stop_reason"`
	Usage      Usage         `json:"usage"`
}

// Text concatenates the response's text parts in order.
func (r *Response) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasToolUse reports whether the response contains a tool_use part.
func (r *Response) HasToolUse() bool {
	for _, p := range r.Parts {
		if p.Type == PartToolUse {
			return true
		}
	}
	return false
}
