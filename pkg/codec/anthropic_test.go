package codec

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/polygate/polygate/pkg/api"
)

func TestAnthropicDecodeRequest(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4",
		"max_tokens": 100,
		"system": "be brief",
		"temperature": 0.5,
		"stop_sequences": ["END"],
		"messages": [
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "thinking"},
				{"type": "tool_use", "id": "tu_1", "name": "calc", "input": {"a": 1}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "tu_1", "content": [{"type": "text", "text": "2"}]}
			]}
		]
	}`

	req, gerr := AnthropicCodec{}.DecodeRequest([]byte(body))
	if gerr != nil {
		t.Fatalf("DecodeRequest: %v", gerr)
	}

	if req.ModelHint != "claude-sonnet-4" {
		t.Errorf("ModelHint = %q", req.ModelHint)
	}
	if req.Generation.MaxTokens == nil || *req.Generation.MaxTokens != 100 {
		t.Error("max_tokens not carried")
	}
	if got := req.SystemText(); got != "be brief" {
		t.Errorf("SystemText = %q", got)
	}
	// system turn + three messages
	if len(req.Turns) != 4 {
		t.Fatalf("got %d turns, want 4", len(req.Turns))
	}

	tool := req.Turns[2].Parts[1]
	if tool.Type != api.PartToolUse || tool.ToolUse.Name != "calc" || tool.ToolUse.ID != "tu_1" {
		t.Errorf("tool_use not preserved: %+v", tool)
	}
	result := req.Turns[3].Parts[0]
	if result.Type != api.PartToolResult || result.ToolResult.Content != "2" {
		t.Errorf("tool_result not normalized: %+v", result)
	}
}

func TestAnthropicDecodeSystemBlockList(t *testing.T) {
	body := `{
		"model": "claude-3",
		"max_tokens": 10,
		"system": [{"type":"text","text":"one"},{"type":"text","text":"two"}],
		"messages": [{"role":"user","content":"hi"}]
	}`
	req, gerr := AnthropicCodec{}.DecodeRequest([]byte(body))
	if gerr != nil {
		t.Fatalf("DecodeRequest: %v", gerr)
	}
	if got := req.SystemText(); got != "one\n\ntwo" {
		t.Errorf("SystemText = %q, want blocks joined with blank line", got)
	}
}

func TestAnthropicDecodeErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantParam string
	}{
		{"missing model", `{"max_tokens":10,"messages":[{"role":"user","content":"x"}]}`, "model"},
		{"missing messages", `{"model":"c","max_tokens":10}`, "messages"},
		{"missing max_tokens", `{"model":"c","messages":[{"role":"user","content":"x"}]}`, "max_tokens"},
		{"bad role", `{"model":"c","max_tokens":10,"messages":[{"role":"robot","content":"x"}]}`, "messages[0].role"},
		{"invalid JSON", `{`, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, gerr := AnthropicCodec{}.DecodeRequest([]byte(tt.body))
			if gerr == nil {
				t.Fatal("expected conversion error")
			}
			if gerr.Kind != api.KindConversion {
				t.Errorf("kind = %q, want conversion_error", gerr.Kind)
			}
			if gerr.Param != tt.wantParam {
				t.Errorf("param = %q, want %q", gerr.Param, tt.wantParam)
			}
		})
	}
}

func TestNormalizeToolResultContent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain string", `"done"`, "done"},
		{"single object with text", `{"type":"text","text":"ok"}`, "ok"},
		{"list of text objects", `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, "a\nb"},
		{"object without text falls back to JSON", `[{"value":42}]`, `{"value":42}`},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeToolResultContent(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("normalizeToolResultContent(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestAnthropicEncodeResponse(t *testing.T) {
	resp := &api.Response{
		ID:         "msg_abc",
		Model:      "claude-3",
		Parts:      []api.ContentPart{api.TextPart("The answer is 5.")},
		StopReason: api.StopEndTurn,
		Usage:      api.Usage{InputTokens: 3, OutputTokens: 5},
	}
	body, err := AnthropicCodec{}.EncodeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out["role"] != "assistant" || out["type"] != "message" {
		t.Errorf("envelope fields wrong: %v", out)
	}
	if out["stop_reason"] != "end_turn" {
		t.Errorf("stop_reason = %v", out["stop_reason"])
	}
	content := out["content"].([]any)
	first := content[0].(map[string]any)
	if first["type"] != "text" || first["text"] != "The answer is 5." {
		t.Errorf("content[0] = %v", first)
	}
	usage := out["usage"].(map[string]any)
	if usage["input_tokens"].(float64) != 3 || usage["output_tokens"].(float64) != 5 {
		t.Errorf("usage = %v", usage)
	}
}

func TestAnthropicRoundTrip(t *testing.T) {
	// Decode then re-encode; semantically significant fields survive.
	body := `{
		"model": "claude-3",
		"max_tokens": 64,
		"messages": [{"role": "user", "content": "2+3?"}]
	}`
	req, gerr := AnthropicCodec{}.DecodeRequest([]byte(body))
	if gerr != nil {
		t.Fatal(gerr)
	}
	if req.Turns[0].Role != api.RoleUser || req.Turns[0].Text() != "2+3?" {
		t.Errorf("user turn lost: %+v", req.Turns)
	}

	resp := &api.Response{
		ID:         "msg_x",
		Model:      req.ModelHint,
		Parts:      []api.ContentPart{api.TextPart("The answer is 5.")},
		StopReason: api.StopEndTurn,
	}
	encoded, err := AnthropicCodec{}.EncodeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(encoded), `"text":"The answer is 5."`) {
		t.Errorf("encoded response lost text: %s", encoded)
	}
}

func TestAnthropicStreamSynthesis(t *testing.T) {
	enc := AnthropicCodec{}.NewStreamEncoder()

	var frames []string
	collect := func(bs [][]byte) {
		for _, b := range bs {
			frames = append(frames, string(b))
		}
	}

	collect(enc.Encode(api.StartedEvent("msg_1", "claude-3")))
	collect(enc.Encode(api.DeltaEvent("Hel")))
	collect(enc.Encode(api.DeltaEvent("lo")))
	collect(enc.Encode(api.StoppedEvent(api.StopEndTurn, &api.Usage{InputTokens: 1, OutputTokens: 2})))

	joined := strings.Join(frames, "")
	wantOrder := []string{
		"event: message_start",
		"event: ping",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
		"data: [DONE]",
	}
	pos := -1
	for _, marker := range wantOrder {
		idx := strings.Index(joined, marker)
		if idx < 0 {
			t.Fatalf("marker %q missing from stream:\n%s", marker, joined)
		}
		if idx < pos {
			t.Errorf("marker %q out of order", marker)
		}
		pos = idx
	}
	if !strings.Contains(joined, `"text":"Hel"`) || !strings.Contains(joined, `"text":"lo"`) {
		t.Errorf("deltas missing: %s", joined)
	}
	if !strings.Contains(joined, `"stop_reason":"end_turn"`) {
		t.Errorf("stop_reason missing: %s", joined)
	}

	// Encoder is exhausted after the terminal event.
	if got := enc.Encode(api.DeltaEvent("late")); got != nil {
		t.Error("encoder emitted frames after terminal event")
	}
}

func TestAnthropicStreamError(t *testing.T) {
	enc := AnthropicCodec{}.NewStreamEncoder()
	enc.Encode(api.StartedEvent("msg_1", "claude-3"))
	enc.Encode(api.DeltaEvent("partial"))

	frames := enc.Encode(api.ErrorEvent(api.NewJobFailedError("backend exploded")))
	joined := ""
	for _, f := range frames {
		joined += string(f)
	}
	if !strings.Contains(joined, "event: error") {
		t.Errorf("no error frame: %s", joined)
	}
	if !strings.Contains(joined, "data: [DONE]") {
		t.Errorf("stream not terminated: %s", joined)
	}
}

func TestAnthropicEncodeError(t *testing.T) {
	status, body := AnthropicCodec{}.EncodeError(api.NewConversionError("max_tokens", "max_tokens is required"))
	if status != 400 {
		t.Errorf("status = %d, want 400", status)
	}
	var env anthropicErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "error" || env.Error.Type != "invalid_request_error" {
		t.Errorf("envelope = %+v", env)
	}
}
