package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/polygate/polygate/pkg/api"
)

// AnthropicCodec implements the Messages API wire protocol
// (POST /v1/messages).
type AnthropicCodec struct{}

var _ Codec = AnthropicCodec{}

// anthropicRequest is the incoming request body for POST /v1/messages.
type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	System        json.RawMessage    `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// anthropicContentBlock covers every request content block shape: text,
// tool_use, tool_result, and image.
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *anthropicImage `json:"source,omitempty"`
}

type anthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// anthropicResponse is the non-streaming response body.
type anthropicResponse struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Role         string                `json:"role"`
	Model        string                `json:"model"`
	Content      []anthropicContentOut `json:"content"`
	StopReason   *string               `json:"stop_reason"`
	StopSequence *string               `json:"stop_sequence"`
	Usage        anthropicUsage        `json:"usage"`
}

type anthropicContentOut struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicErrorEnvelope is the Messages API error shape.
type anthropicErrorEnvelope struct {
	Type  string             `json:"type"`
	Error anthropicErrorBody `json:"error"`
}

type anthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Kind identifies the vendor protocol.
func (AnthropicCodec) Kind() VendorKind { return VendorAnthropic }

// DecodeRequest parses a Messages API body into the canonical request.
func (AnthropicCodec) DecodeRequest(body []byte) (*api.Request, *api.GatewayError) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, api.NewConversionError("body", "invalid JSON payload").WithCause(err)
	}
	if req.Model == "" {
		return nil, api.NewConversionError("model", "model is required")
	}
	if len(req.Messages) == 0 {
		return nil, api.NewConversionError("messages", "messages is required")
	}
	if req.MaxTokens <= 0 {
		return nil, api.NewConversionError("max_tokens", "max_tokens is required and must be positive")
	}

	out := &api.Request{
		ModelHint: req.Model,
		Generation: api.Generation{
			MaxTokens:     intPtr(req.MaxTokens),
			Temperature:   req.Temperature,
			TopP:          req.TopP,
			TopK:          req.TopK,
			StopSequences: req.StopSequences,
			Stream:        req.Stream,
		},
	}

	if system, err := parseAnthropicSystem(req.System); err != nil {
		return nil, api.NewConversionError("system", err.Error())
	} else if system != "" {
		out.Turns = append(out.Turns, api.Turn{Role: api.RoleSystem, Parts: []api.ContentPart{api.TextPart(system)}})
	}

	for i, msg := range req.Messages {
		role, ok := anthropicRole(msg.Role)
		if !ok {
			return nil, api.NewConversionError(fmt.Sprintf("messages[%d].role", i), "role must be user or assistant")
		}
		parts, err := parseAnthropicContent(msg.Content)
		if err != nil {
			return nil, api.NewConversionError(fmt.Sprintf("messages[%d].content", i), err.Error())
		}
		out.Turns = append(out.Turns, api.Turn{Role: role, Parts: parts})
	}

	out.CollapseSystem()
	return out, nil
}

// parseAnthropicSystem handles the dedicated system field, which may be a
// plain string or a list of text blocks joined with blank-line separators.
func parseAnthropicSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("system must be a string or an array of text blocks")
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "" || b.Type == "text" {
			if txt := strings.TrimSpace(b.Text); txt != "" {
				parts = append(parts, txt)
			}
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// parseAnthropicContent handles message content arriving as a plain string
// or an array of typed blocks.
func parseAnthropicContent(raw json.RawMessage) ([]api.ContentPart, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("content is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []api.ContentPart{api.TextPart(s)}, nil
	}

	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of blocks")
	}

	var parts []api.ContentPart
	for _, b := range blocks {
		switch b.Type {
		case "", "text":
			parts = append(parts, api.TextPart(b.Text))
		case "tool_use":
			parts = append(parts, api.ContentPart{
				Type:    api.PartToolUse,
				ToolUse: &api.ToolUseData{ID: b.ID, Name: b.Name, Input: b.Input},
			})
		case "tool_result":
			parts = append(parts, api.ContentPart{
				Type: api.PartToolResult,
				ToolResult: &api.ToolResultData{
					ToolID:  b.ToolUseID,
					Content: normalizeToolResultContent(b.Content),
					IsError: b.IsError,
				},
			})
		case "image":
			img := &api.ImageData{}
			if b.Source != nil {
				img.MediaType = b.Source.MediaType
				img.Data = b.Source.Data
				img.URL = b.Source.URL
			}
			parts = append(parts, api.ContentPart{Type: api.PartImage, Image: img})
		default:
			// Unknown block types are preserved as text so no semantic
			// content is silently dropped.
			parts = append(parts, api.TextPart(b.Text))
		}
	}
	return parts, nil
}

// normalizeToolResultContent reduces tool_result content to plain text.
// It accepts a string, an object, or a list of objects; each item's text
// field is extracted, falling back to a JSON dump, joined with newlines.
func normalizeToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		// Single object.
		items = []json.RawMessage{raw}
	}

	var out []string
	for _, item := range items {
		var block struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(item, &block); err == nil && block.Text != "" {
			out = append(out, block.Text)
			continue
		}
		out = append(out, string(item))
	}
	return strings.Join(out, "\n")
}

// EncodeResponse renders the canonical response as a Messages API message.
func (AnthropicCodec) EncodeResponse(resp *api.Response) ([]byte, error) {
	out := anthropicResponse{
		ID:      resp.ID,
		Type:    "message",
		Role:    "assistant",
		Model:   resp.Model,
		Content: anthropicContentFromParts(resp.Parts),
		Usage: anthropicUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	reason := anthropicStopReason(resp.StopReason)
	out.StopReason = &reason
	return json.Marshal(out)
}

func anthropicContentFromParts(parts []api.ContentPart) []anthropicContentOut {
	out := make([]anthropicContentOut, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case api.PartText:
			out = append(out, anthropicContentOut{Type: "text", Text: p.Text})
		case api.PartToolUse:
			if p.ToolUse == nil {
				continue
			}
			var input any = map[string]any{}
			if len(p.ToolUse.Input) > 0 {
				input = json.RawMessage(p.ToolUse.Input)
			}
			out = append(out, anthropicContentOut{
				Type:  "tool_use",
				ID:    p.ToolUse.ID,
				Name:  p.ToolUse.Name,
				Input: input,
			})
		}
	}
	return out
}

func anthropicStopReason(r api.StopReason) string {
	switch r {
	case api.StopMaxTokens:
		return "max_tokens"
	case api.StopStopSequence:
		return "stop_sequence"
	case api.StopToolUse:
		return "tool_use"
	default:
		return "end_turn"
	}
}

func anthropicRole(role string) (api.Role, bool) {
	switch role {
	case "user":
		return api.RoleUser, true
	case "assistant":
		return api.RoleAssistant, true
	default:
		return "", false
	}
}

// EncodeError renders the Messages API error envelope.
func (AnthropicCodec) EncodeError(ge *api.GatewayError) (int, []byte) {
	errType := "api_error"
	switch ge.Kind {
	case api.KindConversion:
		errType = "invalid_request_error"
	case api.KindRateLimited:
		errType = "rate_limit_error"
	case api.KindProviderUnavailable:
		errType = "overloaded_error"
	}
	body, _ := json.Marshal(anthropicErrorEnvelope{
		Type:  "error",
		Error: anthropicErrorBody{Type: errType, Message: ge.Message},
	})
	return HTTPStatusForKind(ge.Kind), body
}

// NewStreamEncoder returns the per-request Messages SSE synthesizer.
func (AnthropicCodec) NewStreamEncoder() StreamEncoder {
	return &anthropicStreamEncoder{blockIndex: -1}
}

// anthropicStreamEncoder synthesizes the Messages SSE sequence
//
//	message_start → ping → content_block_start → content_block_delta* →
//	content_block_stop → message_delta → message_stop → data: [DONE]
//
// from the canonical event stream. Content blocks open lazily on the first
// delta so tool_use and text blocks interleave with correct indices.
type anthropicStreamEncoder struct {
	messageID  string
	model      string
	started    bool
	done       bool
	blockIndex int
	blockOpen  bool
	blockType  string
	sawToolUse bool
}

func (e *anthropicStreamEncoder) ContentType() string { return "text/event-stream" }

func (e *anthropicStreamEncoder) Encode(evt api.Event) [][]byte {
	if e.done {
		return nil
	}

	switch evt.Type {
	case api.EventStarted:
		e.messageID = evt.ResponseID
		e.model = evt.Model
		return e.start()

	case api.EventDelta:
		frames := e.start()
		frames = append(frames, e.openBlock("text", nil)...)
		frames = append(frames, sseFrame("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": e.blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": evt.Delta},
		}))
		return frames

	case api.EventToolUseDelta:
		frames := e.start()
		if evt.ToolUse == nil {
			return frames
		}
		e.sawToolUse = true
		frames = append(frames, e.openBlock("tool_use", evt.ToolUse)...)
		if evt.ToolUse.ArgsDelta != "" {
			frames = append(frames, sseFrame("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": e.blockIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": evt.ToolUse.ArgsDelta},
			}))
		}
		return frames

	case api.EventStopped:
		frames := e.start()
		frames = append(frames, e.closeBlock()...)

		usage := anthropicUsage{}
		if evt.Usage != nil {
			usage.InputTokens = evt.Usage.InputTokens
			usage.OutputTokens = evt.Usage.OutputTokens
		}
		reason := anthropicStopReason(evt.StopReason)
		if e.sawToolUse && evt.StopReason == api.StopEndTurn {
			reason = "tool_use"
		}
		frames = append(frames,
			sseFrame("message_delta", map[string]any{
				"type":  "message_delta",
				"delta": map[string]any{"stop_reason": reason, "stop_sequence": nil},
				"usage": usage,
			}),
			sseFrame("message_stop", map[string]any{"type": "message_stop"}),
			[]byte("data: [DONE]\n\n"),
		)
		e.done = true
		return frames

	case api.EventError:
		frames := e.closeBlock()
		ge := evt.Err
		if ge == nil {
			ge = api.NewInternalError("stream failed")
		}
		errType := "api_error"
		if ge.Kind == api.KindRateLimited {
			errType = "rate_limit_error"
		}
		frames = append(frames,
			sseFrame("error", anthropicErrorEnvelope{
				Type:  "error",
				Error: anthropicErrorBody{Type: errType, Message: ge.Message},
			}),
			[]byte("data: [DONE]\n\n"),
		)
		e.done = true
		return frames
	}
	return nil
}

func (e *anthropicStreamEncoder) start() [][]byte {
	if e.started {
		return nil
	}
	e.started = true
	if e.messageID == "" {
		e.messageID = api.NewMessageID()
	}
	return [][]byte{
		sseFrame("message_start", map[string]any{
			"type": "message_start",
			"message": anthropicResponse{
				ID:      e.messageID,
				Type:    "message",
				Role:    "assistant",
				Model:   e.model,
				Content: []anthropicContentOut{},
				Usage:   anthropicUsage{},
			},
		}),
		sseFrame("ping", map[string]any{"type": "ping"}),
	}
}

func (e *anthropicStreamEncoder) openBlock(blockType string, tool *api.ToolUseDelta) [][]byte {
	if e.blockOpen && e.blockType == blockType {
		return nil
	}
	frames := e.closeBlock()

	e.blockIndex++
	e.blockOpen = true
	e.blockType = blockType

	block := anthropicContentOut{Type: blockType}
	if blockType == "tool_use" && tool != nil {
		block.ID = tool.ID
		block.Name = tool.Name
		block.Input = map[string]any{}
	}
	frames = append(frames, sseFrame("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         e.blockIndex,
		"content_block": block,
	}))
	return frames
}

func (e *anthropicStreamEncoder) closeBlock() [][]byte {
	if !e.blockOpen {
		return nil
	}
	e.blockOpen = false
	return [][]byte{sseFrame("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": e.blockIndex,
	})}
}

// sseFrame renders one named SSE event.
func sseFrame(event string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return []byte("event: " + event + "\ndata: " + string(data) + "\n\n")
}

func intPtr(v int) *int { return &v }
