package integration

import (
	"net/http"
	"testing"
)

// TestOpenAIDialect exercises POST /v1/chat/completions end to end against
// the chat backend.
func TestOpenAIDialect(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/chat/completions", map[string]any{
		"model":    "chat-model",
		"messages": []map[string]any{{"role": "user", "content": "Say hello"}},
	}, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, readBody(t, resp))
	}

	var out struct {
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	decodeJSON(t, resp, &out)

	if out.Object != "chat.completion" {
		t.Errorf("object = %q", out.Object)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content != "Hello from chat backend!" {
		t.Errorf("choices = %+v", out.Choices)
	}
	if out.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q", out.Choices[0].FinishReason)
	}
}

// TestAnthropicDialect exercises POST /v1/messages against the same backend,
// verifying the response arrives in the Messages envelope.
func TestAnthropicDialect(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/messages", map[string]any{
		"model":      "chat-model",
		"max_tokens": 100,
		"messages":   []map[string]any{{"role": "user", "content": "Say hello"}},
	}, map[string]string{"anthropic-version": "2023-06-01"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, readBody(t, resp))
	}

	var out struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	decodeJSON(t, resp, &out)

	if out.Type != "message" || out.Role != "assistant" {
		t.Errorf("envelope = %+v", out)
	}
	if len(out.Content) != 1 || out.Content[0].Text != "Hello from chat backend!" {
		t.Errorf("content = %+v", out.Content)
	}
	if out.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q", out.StopReason)
	}
}

// TestGeminiDialect exercises the generateContent route, where the model
// name comes from the URL rather than the body.
func TestGeminiDialect(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1beta/models/chat-model:generateContent", map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": "Say hello"}}},
		},
	}, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, readBody(t, resp))
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	decodeJSON(t, resp, &out)

	if len(out.Candidates) != 1 || out.Candidates[0].Content.Parts[0].Text != "Hello from chat backend!" {
		t.Errorf("candidates = %+v", out.Candidates)
	}
	if out.Candidates[0].FinishReason != "STOP" {
		t.Errorf("finishReason = %q", out.Candidates[0].FinishReason)
	}
}

// TestJobBackendInvocation routes a request for the job backend's model
// through the submit-and-poll path.
func TestJobBackendInvocation(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/chat/completions", map[string]any{
		"model":    "job-model",
		"messages": []map[string]any{{"role": "user", "content": "Run the job"}},
	}, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, readBody(t, resp))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	decodeJSON(t, resp, &out)

	if len(out.Choices) != 1 || out.Choices[0].Message.Content != "Job says hello." {
		t.Errorf("choices = %+v", out.Choices)
	}
}

// TestModelListing checks both list shapes against the registered providers.
func TestModelListing(t *testing.T) {
	resp, err := http.Get(testEnv.BaseURL() + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	var openaiList struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &openaiList)
	if len(openaiList.Data) != 2 {
		t.Errorf("openai models = %+v", openaiList.Data)
	}

	resp, err = http.Get(testEnv.BaseURL() + "/v1beta/models")
	if err != nil {
		t.Fatal(err)
	}
	var geminiList struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	decodeJSON(t, resp, &geminiList)
	if len(geminiList.Models) != 2 {
		t.Errorf("gemini models = %+v", geminiList.Models)
	}
}

// TestHealthEndpoint verifies the provider snapshot output.
func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testEnv.BaseURL() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out struct {
		Status    string `json:"status"`
		Providers []struct {
			Name string `json:"name"`
		} `json:"providers"`
	}
	decodeJSON(t, resp, &out)

	if out.Status != "ok" {
		t.Errorf("status = %q", out.Status)
	}
	if len(out.Providers) != 2 {
		t.Errorf("providers = %+v", out.Providers)
	}
}
