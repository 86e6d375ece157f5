package jobapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/polygate/polygate/pkg/poll"
)

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body submitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Prompt != "Human: hi" || body.Model != "m" {
			t.Errorf("submit body = %+v", body)
		}
		json.NewEncoder(w).Encode(submitResponse{JobID: "j-42"})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	id, err := c.Submit(context.Background(), "Human: hi", "m")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "j-42" {
		t.Errorf("job id = %q", id)
	}
}

func TestSubmitMissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	if _, err := c.Submit(context.Background(), "p", "m"); err == nil {
		t.Error("expected error for missing job_id")
	}
}

func TestStatusStates(t *testing.T) {
	tests := []struct {
		name string
		body string
		want poll.Status
	}{
		{
			"pending",
			`{"state":"pending"}`,
			poll.Status{State: poll.JobPending},
		},
		{
			"running with partial",
			`{"state":"running","partial_result":"Hel"}`,
			poll.Status{State: poll.JobRunning, PartialResult: "Hel"},
		},
		{
			"complete",
			`{"state":"complete","full_result":"Hello"}`,
			poll.Status{State: poll.JobComplete, FullResult: "Hello"},
		},
		{
			"failed",
			`{"state":"failed","message":"boom"}`,
			poll.Status{State: poll.JobFailed, Message: "boom"},
		},
		{
			"throttled in body",
			`{"state":"rate_limited","retry_after":3}`,
			poll.Status{State: poll.JobRateLimited, RetryAfter: 3 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/jobs/j-1" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := New(Config{BaseURL: srv.URL})
			st, err := c.Status(context.Background(), "j-1")
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if st != tt.want {
				t.Errorf("status = %+v, want %+v", st, tt.want)
			}
		})
	}
}

func TestStatusHTTP429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	st, err := c.Status(context.Background(), "j-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != poll.JobRateLimited || st.RetryAfter != 7*time.Second {
		t.Errorf("status = %+v", st)
	}
}

func TestStatusUnknownState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"transmogrifying"}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	if _, err := c.Status(context.Background(), "j-1"); err == nil {
		t.Error("expected error for unknown state")
	}
}
