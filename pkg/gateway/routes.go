package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/polygate/polygate/pkg/api"
	"github.com/polygate/polygate/pkg/codec"
)

// Routes registers every gateway endpoint on the mux.
//
// The completion endpoints share one code path: the vendor dialect is taken
// from the detection ladder on the shared routes, and pinned on the Gemini
// routes because there the model name lives in the URL, not the body.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/messages", func(w http.ResponseWriter, r *http.Request) {
		g.handleCompletion(w, r, detectAuto, "", false)
	})
	mux.HandleFunc("POST /v1/messages/count_tokens", g.handleCountTokens)
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		g.handleCompletion(w, r, detectAuto, "", false)
	})
	mux.HandleFunc("POST /v1beta/models/{modelAction...}", g.handleGemini)

	mux.HandleFunc("GET /v1/models", g.handleListModels)
	mux.HandleFunc("GET /v1beta/models", g.handleListModelsGemini)

	mux.HandleFunc("GET /healthz", g.handleHealth)
}

// handleGemini serves {model}:generateContent and {model}:streamGenerateContent.
// The path carries both the model name and the streaming decision.
func (g *Gateway) handleGemini(w http.ResponseWriter, r *http.Request) {
	rest := r.PathValue("modelAction")

	model, action, ok := strings.Cut(rest, ":")
	if !ok {
		writeError(w, g.log, codec.ForKind(codec.VendorGemini),
			api.NewConversionError("url", "expected models/{model}:generateContent"))
		return
	}

	var stream bool
	switch action {
	case "generateContent":
		stream = false
	case "streamGenerateContent":
		stream = true
	default:
		writeError(w, g.log, codec.ForKind(codec.VendorGemini),
			api.NewConversionError("url", "unknown action "+action))
		return
	}

	g.handleCompletion(w, r, forceVendor(codec.VendorGemini), model, stream)
}

// handleCountTokens implements the Messages token counting endpoint. The
// body is a regular Messages request without max_tokens being enforced, so
// it is decoded leniently and estimated.
func (g *Gateway) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, g.cfg.MaxBodyBytes+1))
	if err != nil {
		writeError(w, g.log, codec.ForKind(codec.VendorAnthropic),
			api.NewInternalError("reading request body").WithCause(err))
		return
	}

	c := codec.ForKind(codec.VendorAnthropic)
	req, gerr := c.DecodeRequest(body)
	if gerr != nil {
		// Token counting does not require max_tokens; tolerate only that
		// omission and reject anything else.
		if gerr.Param != "max_tokens" {
			writeError(w, g.log, c, gerr)
			return
		}
		req, gerr = decodeWithoutMaxTokens(body)
		if gerr != nil {
			writeError(w, g.log, c, gerr)
			return
		}
	}

	out, _ := json.Marshal(map[string]int{
		"input_tokens": api.EstimateRequestTokens(req),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

// decodeWithoutMaxTokens re-decodes a Messages body with a placeholder
// max_tokens so the counting endpoint accepts bodies that omit it.
func decodeWithoutMaxTokens(body []byte) (*api.Request, *api.GatewayError) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, api.NewConversionError("body", "request body is not valid JSON")
	}
	raw["max_tokens"] = json.RawMessage("1")
	patched, err := json.Marshal(raw)
	if err != nil {
		return nil, api.NewConversionError("body", "request body is not valid JSON")
	}
	return codec.ForKind(codec.VendorAnthropic).DecodeRequest(patched)
}

// handleListModels renders the served models in the OpenAI list shape.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	type model struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	out := struct {
		Object string  `json:"object"`
		Data   []model `json:"data"`
	}{Object: "list", Data: []model{}}

	for _, m := range g.cfg.Router.Models() {
		out.Data = append(out.Data, model{ID: m, Object: "model", OwnedBy: "polygate"})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleListModelsGemini renders the served models in the Gemini list shape.
func (g *Gateway) handleListModelsGemini(w http.ResponseWriter, r *http.Request) {
	type model struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	}
	out := struct {
		Models []model `json:"models"`
	}{Models: []model{}}

	for _, m := range g.cfg.Router.Models() {
		out.Models = append(out.Models, model{
			Name:                       "models/" + m,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent"},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleHealth reports per-provider routing state and storage reachability.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	type providerHealth struct {
		Name        string  `json:"name"`
		Health      string  `json:"health"`
		Priority    int     `json:"priority"`
		SuccessRate float64 `json:"success_rate"`
		LatencyMS   int64   `json:"latency_ms"`
		InFlight    int     `json:"in_flight"`
	}
	out := struct {
		Status    string           `json:"status"`
		Providers []providerHealth `json:"providers"`
		Storage   string           `json:"storage,omitempty"`
	}{Status: "ok", Providers: []providerHealth{}}

	healthyProviders := 0
	for _, snap := range g.cfg.Router.Snapshots() {
		if snap.Health != "unhealthy" {
			healthyProviders++
		}
		out.Providers = append(out.Providers, providerHealth{
			Name:        snap.Name,
			Health:      string(snap.Health),
			Priority:    snap.Priority,
			SuccessRate: snap.SuccessRate,
			LatencyMS:   snap.Latency.Milliseconds(),
			InFlight:    snap.InFlight,
		})
	}
	if healthyProviders == 0 {
		out.Status = "degraded"
	}

	if g.cfg.Store != nil {
		out.Storage = "ok"
		if err := g.cfg.Store.HealthCheck(r.Context()); err != nil {
			out.Storage = "unreachable"
			out.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if out.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(out)
}
