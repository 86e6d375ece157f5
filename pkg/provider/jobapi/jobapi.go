// Package jobapi implements poll.Backend for HTTP job-execution services
// speaking POST /jobs and GET /jobs/{id}.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/polygate/polygate/pkg/debug"
	"github.com/polygate/polygate/pkg/poll"
)

// Config holds configuration for the job API client.
type Config struct {
	// BaseURL is the job service URL (e.g., "http://localhost:9090").
	BaseURL string

	// APIKey for backend authentication (optional).
	APIKey string

	// Timeout for individual HTTP requests. Defaults to 30s.
	Timeout time.Duration
}

// Client is an HTTP poll.Backend.
type Client struct {
	cfg    Config
	client *http.Client
}

var _ poll.Backend = (*Client)(nil)

// New creates a job API client. Returns an error if the configuration is
// invalid.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jobapi: BaseURL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type submitRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// statusResponse is the wire shape of GET /jobs/{id}.
type statusResponse struct {
	State         string `json:"state"`
	FullResult    string `json:"full_result,omitempty"`
	PartialResult string `json:"partial_result,omitempty"`
	RetryAfter    *int   `json:"retry_after,omitempty"` // seconds
	Message       string `json:"message,omitempty"`
}

// Submit starts a job and returns the backend's job identifier.
func (c *Client) Submit(ctx context.Context, prompt, model string) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: prompt, Model: model})
	if err != nil {
		return "", fmt.Errorf("jobapi: marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("jobapi: build submit request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("jobapi: submit: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", fmt.Errorf("jobapi: submit returned HTTP %s", httpResp.Status)
	}

	var resp submitResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("jobapi: parse submit response: %w", err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("jobapi: submit response carried no job_id")
	}
	debug.Log("poll", "job submitted",
		"backend_job_id", resp.JobID, "model", model, "prompt", debug.Truncate(prompt, 200))
	return resp.JobID, nil
}

// Status reports the state of a submitted job. An HTTP 429 maps to
// JobRateLimited with the Retry-After header as the hint.
func (c *Client) Status(ctx context.Context, jobID string) (poll.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return poll.Status{}, fmt.Errorf("jobapi: build status request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return poll.Status{}, fmt.Errorf("jobapi: status: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return poll.Status{
			State:      poll.JobRateLimited,
			RetryAfter: retryAfterHeader(httpResp),
		}, nil
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return poll.Status{}, fmt.Errorf("jobapi: status returned HTTP %s", httpResp.Status)
	}

	var resp statusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return poll.Status{}, fmt.Errorf("jobapi: parse status response: %w", err)
	}

	st := poll.Status{
		FullResult:    resp.FullResult,
		PartialResult: resp.PartialResult,
		Message:       resp.Message,
	}
	if resp.RetryAfter != nil {
		st.RetryAfter = time.Duration(*resp.RetryAfter) * time.Second
	}
	switch resp.State {
	case "pending", "queued":
		st.State = poll.JobPending
	case "running", "in_progress":
		st.State = poll.JobRunning
	case "complete", "completed", "succeeded":
		st.State = poll.JobComplete
	case "failed", "error":
		st.State = poll.JobFailed
	case "rate_limited", "throttled":
		st.State = poll.JobRateLimited
	default:
		return poll.Status{}, fmt.Errorf("jobapi: unknown job state %q", resp.State)
	}
	return st, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
