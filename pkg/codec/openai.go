package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/polygate/polygate/pkg/api"
)

// OpenAICodec implements the Chat Completions wire protocol
// (POST /v1/chat/completions).
type OpenAICodec struct{}

var _ Codec = OpenAICodec{}

// openaiRequest is the incoming request body for POST /v1/chat/completions.
type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	Stop                json.RawMessage `json:"stop,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// openaiContentPart is one element of an array-form message content.
type openaiContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// openaiResponse is the non-streaming chat.completion object.
type openaiResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int               `json:"index"`
	Message      *openaiOutMessage `json:"message,omitempty"`
	Delta        *openaiDelta      `json:"delta,omitempty"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiOutMessage struct {
	Role      string           `json:"role"`
	Content   *string          `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   *string          `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// openaiChunk is one streaming chat.completion.chunk object.
type openaiChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
}

// openaiErrorEnvelope is the Chat Completions error shape.
type openaiErrorEnvelope struct {
	Error openaiErrorBody `json:"error"`
}

type openaiErrorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

// Kind identifies the vendor protocol.
func (OpenAICodec) Kind() VendorKind { return VendorOpenAI }

// DecodeRequest parses a Chat Completions body into the canonical request.
func (OpenAICodec) DecodeRequest(body []byte) (*api.Request, *api.GatewayError) {
	var req openaiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, api.NewConversionError("body", "invalid JSON payload").WithCause(err)
	}
	if req.Model == "" {
		return nil, api.NewConversionError("model", "model is required")
	}
	if len(req.Messages) == 0 {
		return nil, api.NewConversionError("messages", "messages is required")
	}

	maxTokens := req.MaxCompletionTokens
	if maxTokens == nil {
		maxTokens = req.MaxTokens
	}
	out := &api.Request{
		ModelHint: req.Model,
		Generation: api.Generation{
			Temperature:   req.Temperature,
			MaxTokens:     maxTokens,
			TopP:          req.TopP,
			StopSequences: parseOpenAIStop(req.Stop),
			Stream:        req.Stream,
		},
	}

	for i, msg := range req.Messages {
		turn, err := openaiMessageToTurn(msg)
		if err != nil {
			return nil, api.NewConversionError(fmt.Sprintf("messages[%d]", i), err.Error())
		}
		out.Turns = append(out.Turns, turn)
	}

	out.CollapseSystem()
	return out, nil
}

func openaiMessageToTurn(msg openaiMessage) (api.Turn, error) {
	var role api.Role
	switch msg.Role {
	case "system", "developer":
		role = api.RoleSystem
	case "user":
		role = api.RoleUser
	case "assistant":
		role = api.RoleAssistant
	case "tool":
		// Tool outputs fold into a user turn carrying a tool_result part.
		return api.Turn{
			Role: api.RoleUser,
			Parts: []api.ContentPart{{
				Type: api.PartToolResult,
				ToolResult: &api.ToolResultData{
					ToolID:  msg.ToolCallID,
					Content: normalizeToolResultContent(msg.Content),
				},
			}},
		}, nil
	default:
		return api.Turn{}, fmt.Errorf("unsupported role %q", msg.Role)
	}

	parts, err := parseOpenAIContent(msg.Content)
	if err != nil {
		return api.Turn{}, err
	}
	for _, tc := range msg.ToolCalls {
		parts = append(parts, api.ContentPart{
			Type: api.PartToolUse,
			ToolUse: &api.ToolUseData{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	if len(parts) == 0 {
		return api.Turn{}, fmt.Errorf("content is required")
	}
	return api.Turn{Role: role, Parts: parts}, nil
}

func parseOpenAIContent(raw json.RawMessage) ([]api.ContentPart, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []api.ContentPart{api.TextPart(s)}, nil
	}

	var items []openaiContentPart
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of parts")
	}
	var parts []api.ContentPart
	for _, item := range items {
		switch item.Type {
		case "text", "":
			parts = append(parts, api.TextPart(item.Text))
		case "image_url":
			img := &api.ImageData{}
			if item.ImageURL != nil {
				img.URL = item.ImageURL.URL
			}
			parts = append(parts, api.ContentPart{Type: api.PartImage, Image: img})
		default:
			parts = append(parts, api.TextPart(item.Text))
		}
	}
	return parts, nil
}

func parseOpenAIStop(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return nil
}

// EncodeResponse renders the canonical response as a chat.completion object.
func (OpenAICodec) EncodeResponse(resp *api.Response) ([]byte, error) {
	text := resp.Text()
	msg := &openaiOutMessage{Role: "assistant", Content: &text}
	for _, p := range resp.Parts {
		if p.Type == api.PartToolUse && p.ToolUse != nil {
			msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
				ID:   p.ToolUse.ID,
				Type: "function",
				Function: openaiFunctionCall{
					Name:      p.ToolUse.Name,
					Arguments: string(p.ToolUse.Input),
				},
			})
		}
	}
	reason := openaiFinishReason(resp.StopReason)
	out := openaiResponse{
		ID:      openaiCompletionID(resp.ID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []openaiChoice{{Index: 0, Message: msg, FinishReason: &reason}},
		Usage: openaiUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	return json.Marshal(out)
}

func openaiFinishReason(r api.StopReason) string {
	switch r {
	case api.StopMaxTokens:
		return "length"
	case api.StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

// openaiCompletionID rewrites a canonical msg_ ID into the chatcmpl- form
// OpenAI clients expect.
func openaiCompletionID(id string) string {
	if id == "" {
		return "chatcmpl-" + api.NewMessageID()[len("msg_"):]
	}
	if len(id) > 4 && id[:4] == "msg_" {
		return "chatcmpl-" + id[4:]
	}
	return id
}

// EncodeError renders the Chat Completions error envelope.
func (OpenAICodec) EncodeError(ge *api.GatewayError) (int, []byte) {
	errType := "server_error"
	switch ge.Kind {
	case api.KindConversion:
		errType = "invalid_request_error"
	case api.KindRateLimited:
		errType = "rate_limit_error"
	}
	body := openaiErrorBody{Message: ge.Message, Type: errType}
	if ge.Param != "" {
		param := ge.Param
		body.Param = &param
	}
	out, _ := json.Marshal(openaiErrorEnvelope{Error: body})
	return HTTPStatusForKind(ge.Kind), out
}

// NewStreamEncoder returns the per-request chat.completion.chunk synthesizer.
func (OpenAICodec) NewStreamEncoder() StreamEncoder {
	return &openaiStreamEncoder{created: time.Now().Unix()}
}

// openaiStreamEncoder emits chat.completion.chunk objects: one per text
// delta, a final chunk carrying finish_reason and usage, then data: [DONE].
type openaiStreamEncoder struct {
	id         string
	model      string
	created    int64
	done       bool
	sawToolUse bool
}

func (e *openaiStreamEncoder) ContentType() string { return "text/event-stream" }

func (e *openaiStreamEncoder) Encode(evt api.Event) [][]byte {
	if e.done {
		return nil
	}

	switch evt.Type {
	case api.EventStarted:
		e.id = openaiCompletionID(evt.ResponseID)
		e.model = evt.Model
		return nil

	case api.EventDelta:
		content := evt.Delta
		return [][]byte{e.chunk(openaiChoice{
			Index: 0,
			Delta: &openaiDelta{Role: "assistant", Content: &content},
		}, nil)}

	case api.EventToolUseDelta:
		if evt.ToolUse == nil {
			return nil
		}
		e.sawToolUse = true
		return [][]byte{e.chunk(openaiChoice{
			Index: 0,
			Delta: &openaiDelta{
				Role: "assistant",
				ToolCalls: []openaiToolCall{{
					ID:   evt.ToolUse.ID,
					Type: "function",
					Function: openaiFunctionCall{
						Name:      evt.ToolUse.Name,
						Arguments: evt.ToolUse.ArgsDelta,
					},
				}},
			},
		}, nil)}

	case api.EventStopped:
		reason := openaiFinishReason(evt.StopReason)
		if e.sawToolUse && evt.StopReason == api.StopEndTurn {
			reason = "tool_calls"
		}
		var usage *openaiUsage
		if evt.Usage != nil {
			usage = &openaiUsage{
				PromptTokens:     evt.Usage.InputTokens,
				CompletionTokens: evt.Usage.OutputTokens,
				TotalTokens:      evt.Usage.InputTokens + evt.Usage.OutputTokens,
			}
		}
		e.done = true
		return [][]byte{
			e.chunk(openaiChoice{Index: 0, Delta: &openaiDelta{}, FinishReason: &reason}, usage),
			[]byte("data: [DONE]\n\n"),
		}

	case api.EventError:
		ge := evt.Err
		if ge == nil {
			ge = api.NewInternalError("stream failed")
		}
		errType := "server_error"
		if ge.Kind == api.KindRateLimited {
			errType = "rate_limit_error"
		}
		payload, _ := json.Marshal(openaiErrorEnvelope{
			Error: openaiErrorBody{Message: ge.Message, Type: errType},
		})
		e.done = true
		return [][]byte{
			[]byte("data: " + string(payload) + "\n\n"),
			[]byte("data: [DONE]\n\n"),
		}
	}
	return nil
}

func (e *openaiStreamEncoder) chunk(choice openaiChoice, usage *openaiUsage) []byte {
	if e.id == "" {
		e.id = openaiCompletionID("")
	}
	payload, err := json.Marshal(openaiChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []openaiChoice{choice},
		Usage:   usage,
	})
	if err != nil {
		payload = []byte("{}")
	}
	return []byte("data: " + string(payload) + "\n\n")
}
