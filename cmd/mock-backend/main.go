// Command mock-backend runs a deterministic job-execution service for local
// gateway testing. It speaks the submit-and-poll protocol (POST /jobs,
// GET /jobs/{id}) and reveals each result incrementally so the gateway's
// partial-result streaming can be exercised end to end.
//
// Configuration:
//
//	MOCK_PORT         - Listen port (default: 9090)
//	MOCK_STEPS        - Polls before a job completes (default: 4)
//	MOCK_THROTTLE_NTH - Every Nth status poll answers rate_limited; 0 disables
//	                    (default: 0)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

func main() {
	port := envOrDefault("MOCK_PORT", "9090")
	steps := envInt("MOCK_STEPS", 4)
	throttleNth := envInt("MOCK_THROTTLE_NTH", 0)

	svc := &jobService{
		jobs:        make(map[string]*job),
		steps:       steps,
		throttleNth: throttleNth,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", svc.handleSubmit)
	mux.HandleFunc("GET /jobs/{id}", svc.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "steps", steps)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// job is one submitted generation. The result is revealed one slice per
// status poll so the gateway sees growing partials.
type job struct {
	result string
	polls  int
	steps  int
}

type jobService struct {
	mu          sync.Mutex
	jobs        map[string]*job
	nextID      int
	steps       int
	throttleNth int
	statusCalls int
}

type submitRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type statusResponse struct {
	State         string `json:"state"`
	FullResult    string `json:"full_result,omitempty"`
	PartialResult string `json:"partial_result,omitempty"`
	RetryAfter    *int   `json:"retry_after,omitempty"`
	Message       string `json:"message,omitempty"`
}

func (s *jobService) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("job-%d", s.nextID)
	s.jobs[id] = &job{
		result: resultFor(req.Prompt),
		steps:  s.steps,
	}
	s.mu.Unlock()

	slog.Info("job submitted", "job_id", id, "model", req.Model)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"job_id": id})
}

func (s *jobService) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, `{"error":"no such job"}`, http.StatusNotFound)
		return
	}

	s.statusCalls++
	if s.throttleNth > 0 && s.statusCalls%s.throttleNth == 0 {
		s.mu.Unlock()
		retry := 1
		writeJSON(w, statusResponse{State: "rate_limited", RetryAfter: &retry})
		return
	}

	j.polls++
	resp := j.status()
	s.mu.Unlock()

	writeJSON(w, resp)
}

// status reveals the next slice of the result. The job runs for steps polls:
// the first answers pending, the middle ones running with a growing partial,
// and the last complete with the full result.
func (j *job) status() statusResponse {
	if j.polls >= j.steps {
		return statusResponse{State: "complete", FullResult: j.result}
	}
	if j.polls == 1 {
		return statusResponse{State: "pending"}
	}

	runes := []rune(j.result)
	cut := len(runes) * (j.polls - 1) / (j.steps - 1)
	return statusResponse{State: "running", PartialResult: string(runes[:cut])}
}

// resultFor generates a deterministic completion from the prompt so test
// assertions can predict the output.
func resultFor(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if strings.Contains(strings.ToLower(prompt), "count from 1 to 5") {
		return "1, 2, 3, 4, 5"
	}
	if prompt == "" {
		return "The job completed with no input."
	}
	words := strings.Fields(prompt)
	if len(words) > 8 {
		words = words[len(words)-8:]
	}
	return "Echo: " + strings.Join(words, " ")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
