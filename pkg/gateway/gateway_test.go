package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/polygate/polygate/pkg/api"
	"github.com/polygate/polygate/pkg/provider"
	"github.com/polygate/polygate/pkg/provider/mock"
	"github.com/polygate/polygate/pkg/router"
	"github.com/polygate/polygate/pkg/storage"
	"github.com/polygate/polygate/pkg/storage/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// newTestGateway builds a gateway over a single mock provider and an
// in-memory store, returning the mux ready for httptest.
func newTestGateway(t *testing.T, p *mock.Provider, store storage.Store) (*Gateway, *http.ServeMux) {
	t.Helper()
	rt := router.New(router.Options{Logger: quietLogger()})
	rt.Register(p, 0)

	g, err := New(Config{
		Router:           rt,
		Store:            store,
		DefaultMaxTokens: 1024,
		Logger:           quietLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mux := http.NewServeMux()
	g.Routes(mux)
	return g, mux
}

func TestAnthropicNonStreaming(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"claude-3-opus"}, Text: "Hello from the backend."}
	store := memory.New(0)
	_, mux := newTestGateway(t, p, store)

	body := `{"model":"claude-3-opus","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	req.Header.Set("anthropic-version", "2023-06-01")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Role    string `json:"role"`
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp.Type != "message" || resp.Role != "assistant" {
		t.Errorf("envelope = %+v", resp)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "Hello from the backend." {
		t.Errorf("content = %+v", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q, want end_turn", resp.StopReason)
	}

	// The exchange was recorded.
	list, err := store.ListExchanges(context.Background(), storage.ListOptions{})
	if err != nil || len(list) != 1 {
		t.Fatalf("exchanges = %v, err = %v", list, err)
	}
	if list[0].Vendor != "anthropic" || list[0].Completion != "Hello from the backend." {
		t.Errorf("exchange = %+v", list[0])
	}
}

func TestOpenAINonStreaming(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"gpt-4o"}, Text: "Sure."}
	_, mux := newTestGateway(t, p, nil)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Sure." {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", resp.Choices[0].FinishReason)
	}
}

func TestOpenAIStreaming(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"gpt-4o"}, Chunks: []string{"Hel", "lo"}}
	_, mux := newTestGateway(t, p, nil)

	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	raw := rec.Body.String()
	if !strings.HasSuffix(raw, "data: [DONE]\n\n") {
		t.Errorf("stream does not end with [DONE]:\n%s", raw)
	}

	// Reassemble the text from the chunk frames.
	var text string
	for _, line := range strings.Split(raw, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var chunk struct {
			Object  string `json:"object"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("parsing chunk %q: %v", payload, err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Errorf("chunk object = %q", chunk.Object)
		}
		for _, c := range chunk.Choices {
			text += c.Delta.Content
		}
	}
	if text != "Hello" {
		t.Errorf("assembled text = %q, want %q", text, "Hello")
	}
}

func TestAnthropicStreaming(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"claude-3-opus"}, Chunks: []string{"Hi", " there"}}
	_, mux := newTestGateway(t, p, nil)

	body := `{"model":"claude-3-opus","max_tokens":50,"stream":true,"messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	raw := rec.Body.String()
	for _, marker := range []string{
		"event: message_start",
		"event: content_block_delta",
		"event: message_stop",
		"data: [DONE]",
	} {
		if !strings.Contains(raw, marker) {
			t.Errorf("stream missing %q:\n%s", marker, raw)
		}
	}
}

func TestGeminiGenerateContent(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"gemini-pro"}, Text: "Answer."}
	_, mux := newTestGateway(t, p, nil)

	body := `{"contents":[{"role":"user","parts":[{"text":"Hi"}]}]}`
	req := httptest.NewRequest("POST", "/v1beta/models/gemini-pro:generateContent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			TotalTokenCount int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].Content.Parts[0].Text != "Answer." {
		t.Errorf("candidates = %+v", resp.Candidates)
	}
	if resp.Candidates[0].FinishReason != "STOP" {
		t.Errorf("finishReason = %q, want STOP", resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata.TotalTokenCount == 0 {
		t.Error("usageMetadata missing")
	}
}

func TestGeminiStreamGenerateContent(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"gemini-pro"}, Chunks: []string{"One", "Two"}}
	_, mux := newTestGateway(t, p, nil)

	body := `{"contents":[{"role":"user","parts":[{"text":"Hi"}]}]}`
	req := httptest.NewRequest("POST", "/v1beta/models/gemini-pro:streamGenerateContent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	// Newline-delimited JSON objects; usage only on the final one.
	var objects []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			objects = append(objects, line)
		}
	}
	if len(objects) < 2 {
		t.Fatalf("objects = %d, want >= 2", len(objects))
	}
	var text string
	for i, obj := range objects {
		var frame struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
			UsageMetadata *struct{} `json:"usageMetadata"`
		}
		if err := json.Unmarshal([]byte(obj), &frame); err != nil {
			t.Fatalf("parsing object %q: %v", obj, err)
		}
		for _, c := range frame.Candidates {
			for _, part := range c.Content.Parts {
				text += part.Text
			}
		}
		if i < len(objects)-1 && frame.UsageMetadata != nil {
			t.Errorf("object %d carries usageMetadata before the final frame", i)
		}
	}
	if text != "OneTwo" {
		t.Errorf("assembled text = %q, want %q", text, "OneTwo")
	}
}

func TestGeminiUnknownAction(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"gemini-pro"}}
	_, mux := newTestGateway(t, p, nil)

	req := httptest.NewRequest("POST", "/v1beta/models/gemini-pro:embedContent", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConversionErrorEnvelope(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"claude-3-opus"}}
	_, mux := newTestGateway(t, p, nil)

	// Messages body without the mandatory max_tokens.
	body := `{"model":"claude-3-opus","system":"be nice","messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	req.Header.Set("anthropic-version", "2023-06-01")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing error envelope: %v", err)
	}
	if resp.Type != "error" || resp.Error.Type != "invalid_request_error" {
		t.Errorf("envelope = %+v", resp)
	}
}

func TestNoProviderForModel(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"gpt-4o"}}
	_, mux := newTestGateway(t, p, nil)

	body := `{"model":"unknown-model","messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing error envelope: %v", err)
	}
	if resp.Error.Type == "" {
		t.Errorf("error envelope missing type: %s", rec.Body.String())
	}
}

func TestProviderErrorMapsToVendorEnvelope(t *testing.T) {
	p := &mock.Provider{
		ServedModels: []string{"claude-3-opus"},
		Err:          api.NewRateLimitedError("backend throttled"),
	}
	_, mux := newTestGateway(t, p, nil)

	body := `{"model":"claude-3-opus","max_tokens":10,"messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	req.Header.Set("anthropic-version", "2023-06-01")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error.Type != "rate_limit_error" {
		t.Errorf("error type = %q, want rate_limit_error", resp.Error.Type)
	}
}

func TestDefaultModelAndSystemPrompt(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"fallback-model"}, Text: "ok"}
	rt := router.New(router.Options{Logger: quietLogger()})
	rt.Register(p, 0)

	g, err := New(Config{
		Router:              rt,
		DefaultModel:        "fallback-model",
		DefaultSystemPrompt: "You are terse.",
		DefaultMaxTokens:    256,
		Logger:              quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	g.Routes(mux)

	// OpenAI body without a model.
	body := `{"messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if p.Invocations.Load() != 1 {
		t.Errorf("invocations = %d, want 1", p.Invocations.Load())
	}
}

func TestCountTokens(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"claude-3-opus"}}
	_, mux := newTestGateway(t, p, nil)

	// count_tokens accepts bodies without max_tokens.
	body := `{"model":"claude-3-opus","messages":[{"role":"user","content":"Hello world, how are you?"}]}`
	req := httptest.NewRequest("POST", "/v1/messages/count_tokens", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		InputTokens int `json:"input_tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// "Hello world, how are you?" is 25 runes -> ceil(25/4) = 7.
	if resp.InputTokens != 7 {
		t.Errorf("input_tokens = %d, want 7", resp.InputTokens)
	}
}

func TestListModels(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"m-a", "m-b"}}
	_, mux := newTestGateway(t, p, nil)

	req := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "list" || len(resp.Data) != 2 {
		t.Errorf("models = %+v", resp)
	}

	// Gemini shape.
	req = httptest.NewRequest("GET", "/v1beta/models", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var gresp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &gresp); err != nil {
		t.Fatal(err)
	}
	if len(gresp.Models) != 2 || gresp.Models[0].Name != "models/m-a" {
		t.Errorf("gemini models = %+v", gresp)
	}
}

func TestHealthz(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"m"}}
	store := memory.New(0)
	_, mux := newTestGateway(t, p, store)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status    string `json:"status"`
		Providers []struct {
			Name   string `json:"name"`
			Health string `json:"health"`
		} `json:"providers"`
		Storage string `json:"storage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Storage != "ok" {
		t.Errorf("health = %+v", resp)
	}
	if len(resp.Providers) != 1 || resp.Providers[0].Health != "healthy" {
		t.Errorf("providers = %+v", resp.Providers)
	}
}

func TestBodySizeLimit(t *testing.T) {
	p := &mock.Provider{ServedModels: []string{"m"}}
	rt := router.New(router.Options{Logger: quietLogger()})
	rt.Register(p, 0)

	g, err := New(Config{Router: rt, MaxBodyBytes: 64, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	g.Routes(mux)

	body := `{"model":"m","messages":[{"role":"user","content":"` + strings.Repeat("x", 200) + `"}]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStreamErrorFrame(t *testing.T) {
	// A provider that opens the stream, then fails.
	p := &failingStreamProvider{}
	rt := router.New(router.Options{Logger: quietLogger()})
	rt.Register(p, 0)

	g, err := New(Config{Router: rt, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	g.Routes(mux)

	body := `{"model":"any","stream":true,"messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// The stream started with a 200; the failure arrives as an error frame.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	raw := rec.Body.String()
	if !strings.Contains(raw, "job_failed") && !strings.Contains(raw, "server_error") {
		t.Errorf("stream missing error frame:\n%s", raw)
	}
	if !strings.HasSuffix(raw, "data: [DONE]\n\n") {
		t.Errorf("error stream must still terminate with [DONE]:\n%s", raw)
	}
}

// failingStreamProvider emits Started, one delta, then an error event.
type failingStreamProvider struct{}

func (f *failingStreamProvider) Name() string                  { return "failing" }
func (f *failingStreamProvider) Mode() provider.InvocationMode { return provider.NativeStreaming }
func (f *failingStreamProvider) Models() []string              { return nil }
func (f *failingStreamProvider) Invoke(ctx context.Context, req *api.Request) (*api.Response, error) {
	return nil, errors.New("not supported")
}
func (f *failingStreamProvider) Stream(ctx context.Context, req *api.Request) (<-chan api.Event, error) {
	ch := make(chan api.Event, 3)
	ch <- api.StartedEvent(api.NewMessageID(), req.ModelHint)
	ch <- api.DeltaEvent("partial")
	ch <- api.ErrorEvent(api.NewJobFailedError("backend died mid-stream"))
	close(ch)
	return ch, nil
}
func (f *failingStreamProvider) Close() error { return nil }

var _ provider.Provider = (*failingStreamProvider)(nil)
