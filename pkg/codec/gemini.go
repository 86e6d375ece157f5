package codec

import (
	"encoding/json"
	"fmt"

	"github.com/polygate/polygate/pkg/api"
)

// GeminiCodec implements the generateContent wire protocol
// (POST /v1beta/models/{model}:generateContent).
type GeminiCodec struct{}

var _ Codec = GeminiCodec{}

// geminiRequest is the incoming generateContent body.
type geminiRequest struct {
	Model             string                  `json:"model,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// geminiResponse is both the non-streaming response and the per-chunk
// streaming shape; usageMetadata is attached only on the final chunk.
type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// geminiErrorEnvelope is the google.rpc.Status error shape.
type geminiErrorEnvelope struct {
	Error geminiErrorBody `json:"error"`
}

type geminiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Kind identifies the vendor protocol.
func (GeminiCodec) Kind() VendorKind { return VendorGemini }

// DecodeRequest parses a generateContent body into the canonical request.
func (GeminiCodec) DecodeRequest(body []byte) (*api.Request, *api.GatewayError) {
	var req geminiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, api.NewConversionError("body", "invalid JSON payload").WithCause(err)
	}
	if len(req.Contents) == 0 {
		return nil, api.NewConversionError("contents", "contents is required")
	}

	out := &api.Request{ModelHint: req.Model}
	if gc := req.GenerationConfig; gc != nil {
		out.Generation = api.Generation{
			Temperature:   gc.Temperature,
			MaxTokens:     gc.MaxOutputTokens,
			TopP:          gc.TopP,
			TopK:          gc.TopK,
			StopSequences: gc.StopSequences,
		}
	}

	// The systemInstruction field folds into the canonical system turn.
	if req.SystemInstruction != nil {
		var text string
		for _, p := range req.SystemInstruction.Parts {
			text += p.Text
		}
		if text != "" {
			out.Turns = append(out.Turns, api.Turn{
				Role:  api.RoleSystem,
				Parts: []api.ContentPart{api.TextPart(text)},
			})
		}
	}

	for i, content := range req.Contents {
		role, ok := geminiRole(content.Role)
		if !ok {
			return nil, api.NewConversionError(fmt.Sprintf("contents[%d].role", i), "role must be user or model")
		}
		parts, err := geminiPartsToCanonical(content.Parts)
		if err != nil {
			return nil, api.NewConversionError(fmt.Sprintf("contents[%d].parts", i), err.Error())
		}
		out.Turns = append(out.Turns, api.Turn{Role: role, Parts: parts})
	}

	out.CollapseSystem()
	return out, nil
}

func geminiRole(role string) (api.Role, bool) {
	switch role {
	case "user", "":
		return api.RoleUser, true
	case "model":
		return api.RoleAssistant, true
	default:
		return "", false
	}
}

func geminiPartsToCanonical(parts []geminiPart) ([]api.ContentPart, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("parts is required")
	}
	var out []api.ContentPart
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			out = append(out, api.ContentPart{
				Type: api.PartToolUse,
				ToolUse: &api.ToolUseData{
					ID:    p.FunctionCall.Name,
					Name:  p.FunctionCall.Name,
					Input: p.FunctionCall.Args,
				},
			})
		case p.FunctionResponse != nil:
			out = append(out, api.ContentPart{
				Type: api.PartToolResult,
				ToolResult: &api.ToolResultData{
					ToolID:  p.FunctionResponse.Name,
					Content: normalizeToolResultContent(p.FunctionResponse.Response),
				},
			})
		case p.InlineData != nil:
			out = append(out, api.ContentPart{
				Type:  api.PartImage,
				Image: &api.ImageData{MediaType: p.InlineData.MimeType, Data: p.InlineData.Data},
			})
		default:
			out = append(out, api.TextPart(p.Text))
		}
	}
	return out, nil
}

// EncodeResponse renders the canonical response as a generateContent result.
func (GeminiCodec) EncodeResponse(resp *api.Response) ([]byte, error) {
	out := geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      geminiContentFromParts(resp.Parts),
			FinishReason: geminiFinishReason(resp.StopReason),
			Index:        0,
		}},
		UsageMetadata: &geminiUsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	return json.Marshal(out)
}

func geminiContentFromParts(parts []api.ContentPart) geminiContent {
	out := geminiContent{Role: "model"}
	for _, p := range parts {
		switch p.Type {
		case api.PartText:
			out.Parts = append(out.Parts, geminiPart{Text: p.Text})
		case api.PartToolUse:
			if p.ToolUse != nil {
				out.Parts = append(out.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: p.ToolUse.Name, Args: p.ToolUse.Input},
				})
			}
		}
	}
	if out.Parts == nil {
		out.Parts = []geminiPart{{Text: ""}}
	}
	return out
}

func geminiFinishReason(r api.StopReason) string {
	switch r {
	case api.StopMaxTokens:
		return "MAX_TOKENS"
	case api.StopStopSequence:
		return "STOP"
	case api.StopToolUse:
		return "STOP"
	case api.StopError:
		return "OTHER"
	default:
		return "STOP"
	}
}

// EncodeError renders the google.rpc.Status error envelope.
func (GeminiCodec) EncodeError(ge *api.GatewayError) (int, []byte) {
	status := HTTPStatusForKind(ge.Kind)
	rpcStatus := "INTERNAL"
	switch ge.Kind {
	case api.KindConversion:
		rpcStatus = "INVALID_ARGUMENT"
	case api.KindRateLimited:
		rpcStatus = "RESOURCE_EXHAUSTED"
	case api.KindProviderUnavailable:
		rpcStatus = "UNAVAILABLE"
	case api.KindJobTimeout:
		rpcStatus = "DEADLINE_EXCEEDED"
	}
	body, _ := json.Marshal(geminiErrorEnvelope{
		Error: geminiErrorBody{Code: status, Message: ge.Message, Status: rpcStatus},
	})
	return status, body
}

// NewStreamEncoder returns the per-request streamGenerateContent synthesizer.
func (GeminiCodec) NewStreamEncoder() StreamEncoder {
	return &geminiStreamEncoder{}
}

// geminiStreamEncoder emits successive candidates-shaped JSON objects, one
// per line. Unlike the other two vendors this stream is not SSE-framed;
// usageMetadata appears only on the final object.
type geminiStreamEncoder struct {
	done bool
}

func (e *geminiStreamEncoder) ContentType() string { return "application/json" }

func (e *geminiStreamEncoder) Encode(evt api.Event) [][]byte {
	if e.done {
		return nil
	}

	switch evt.Type {
	case api.EventDelta:
		return [][]byte{e.object(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Role: "model", Parts: []geminiPart{{Text: evt.Delta}}},
				Index:   0,
			}},
		})}

	case api.EventToolUseDelta:
		if evt.ToolUse == nil {
			return nil
		}
		return [][]byte{e.object(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Role: "model", Parts: []geminiPart{{
					FunctionCall: &geminiFunctionCall{
						Name: evt.ToolUse.Name,
						Args: json.RawMessage(evt.ToolUse.ArgsDelta),
					},
				}}},
				Index: 0,
			}},
		})}

	case api.EventStopped:
		e.done = true
		final := geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: ""}}},
				FinishReason: geminiFinishReason(evt.StopReason),
				Index:        0,
			}},
		}
		if evt.Usage != nil {
			final.UsageMetadata = &geminiUsageMetadata{
				PromptTokenCount:     evt.Usage.InputTokens,
				CandidatesTokenCount: evt.Usage.OutputTokens,
				TotalTokenCount:      evt.Usage.InputTokens + evt.Usage.OutputTokens,
			}
		}
		return [][]byte{e.object(final)}

	case api.EventError:
		e.done = true
		ge := evt.Err
		if ge == nil {
			ge = api.NewInternalError("stream failed")
		}
		_, body := GeminiCodec{}.EncodeError(ge)
		return [][]byte{append(body, '\n')}
	}
	return nil
}

func (e *geminiStreamEncoder) object(resp geminiResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte("{}")
	}
	return append(data, '\n')
}
