package codec

import (
	"net/http"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		header http.Header
		want   VendorKind
	}{
		{
			name:   "anthropic version header wins over openai body",
			body:   `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`,
			header: http.Header{"Anthropic-Version": []string{"2023-06-01"}},
			want:   VendorAnthropic,
		},
		{
			name:   "goog api key header wins",
			body:   `{"model":"gpt-4","messages":[]}`,
			header: http.Header{"X-Goog-Api-Key": []string{"k"}},
			want:   VendorGemini,
		},
		{
			name: "contents array marks gemini",
			body: `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`,
			want: VendorGemini,
		},
		{
			name: "contents beats messages",
			body: `{"messages":[],"contents":[{"parts":[{"text":"hi"}]}]}`,
			want: VendorGemini,
		},
		{
			name: "system field marks anthropic",
			body: `{"model":"x","system":"be brief","messages":[{"role":"user","content":"hi"}],"max_tokens":10}`,
			want: VendorAnthropic,
		},
		{
			name: "mandatory max_tokens with unknown model marks anthropic",
			body: `{"model":"x","max_tokens":50,"messages":[{"role":"user","content":"2+3?"}]}`,
			want: VendorAnthropic,
		},
		{
			name: "gpt model with max_tokens stays openai",
			body: `{"model":"gpt-4o","max_tokens":50,"messages":[{"role":"user","content":"hi"}]}`,
			want: VendorOpenAI,
		},
		{
			name: "claude model name",
			body: `{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`,
			want: VendorAnthropic,
		},
		{
			name: "gemini model name",
			body: `{"model":"gemini-2.0-flash","messages":[{"role":"user","content":"hi"}]}`,
			want: VendorGemini,
		},
		{
			name: "plain openai request",
			body: `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`,
			want: VendorOpenAI,
		},
		{
			name: "unidentifiable defaults to openai",
			body: `{"foo":"bar"}`,
			want: VendorOpenAI,
		},
		{
			name: "invalid JSON defaults to openai",
			body: `not json at all`,
			want: VendorOpenAI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect([]byte(tt.body), tt.header)
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectNeverPanics(t *testing.T) {
	inputs := [][]byte{nil, {}, []byte("{"), []byte(`{"model":1}`)}
	for _, in := range inputs {
		_ = Detect(in, nil)
	}
}
