package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/polygate/polygate/pkg/api"
	"github.com/polygate/polygate/pkg/debug"
	"github.com/polygate/polygate/pkg/provider"
)

// OpenAICompatProvider implements provider.Provider for OpenAI-compatible
// Chat Completions backends.
type OpenAICompatProvider struct {
	cfg    Config
	client *http.Client
}

var _ provider.Provider = (*OpenAICompatProvider)(nil)

// New creates a provider with the given configuration. Returns an error if
// the configuration is invalid.
func New(cfg Config) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openaicompat: BaseURL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Name == "" {
		cfg.Name = "openaicompat"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAICompatProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *OpenAICompatProvider) Name() string { return p.cfg.Name }

func (p *OpenAICompatProvider) Mode() provider.InvocationMode {
	if p.cfg.Streaming {
		return provider.NativeStreaming
	}
	return provider.Synchronous
}

func (p *OpenAICompatProvider) Models() []string { return p.cfg.Models }

// Invoke performs non-streaming inference against the backend.
func (p *OpenAICompatProvider) Invoke(ctx context.Context, req *api.Request) (*api.Response, error) {
	body, err := json.Marshal(translateRequest(req, false))
	if err != nil {
		return nil, api.NewInternalError("failed to marshal backend request").WithCause(err)
	}

	httpReq, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	debug.Log("providers", "backend request",
		"provider", p.cfg.Name, "model", req.ModelHint, "stream", false)
	debug.Raw("providers", string(body))

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewProviderUnavailableError("failed to parse backend response").WithCause(err)
	}
	return translateResponse(&chatResp, req), nil
}

// Stream performs streaming inference. For Synchronous backends the events
// are synthesized from one blocking call.
//
// The HTTP client timeout is not applied to streaming requests; a stream can
// legitimately outlast any fixed timeout, so lifecycle control relies on
// context cancellation instead.
func (p *OpenAICompatProvider) Stream(ctx context.Context, req *api.Request) (<-chan api.Event, error) {
	if !p.cfg.Streaming {
		resp, err := p.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		return provider.SynthesizeStream(resp), nil
	}

	body, err := json.Marshal(translateRequest(req, true))
	if err != nil {
		return nil, api.NewInternalError("failed to marshal backend request").WithCause(err)
	}

	httpReq, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	debug.Log("providers", "backend request",
		"provider", p.cfg.Name, "model", req.ModelHint, "stream", true)

	streamClient := &http.Client{Transport: p.client.Transport}
	httpResp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, mapHTTPError(httpResp)
	}

	ch := make(chan api.Event, 16)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		parseSSEStream(ctx, httpResp.Body, req, ch)
	}()
	return ch, nil
}

func (p *OpenAICompatProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := p.cfg.BaseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, api.NewInternalError("failed to create backend request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return httpReq, nil
}

// Close releases provider resources.
func (p *OpenAICompatProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
