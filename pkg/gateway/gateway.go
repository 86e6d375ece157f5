package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/polygate/polygate/pkg/api"
	"github.com/polygate/polygate/pkg/codec"
	"github.com/polygate/polygate/pkg/observability"
	"github.com/polygate/polygate/pkg/router"
	"github.com/polygate/polygate/pkg/storage"
)

// Config holds the gateway's collaborators and request defaults.
type Config struct {
	// Router selects the backend for each request.
	Router *router.Router

	// Store persists completed exchanges. Optional; nil disables recording.
	Store storage.Store

	// DefaultModel fills in requests that omit the model field.
	DefaultModel string

	// DefaultSystemPrompt is prepended as a system turn when the request
	// carries no system instructions of its own.
	DefaultSystemPrompt string

	// DefaultMaxTokens fills in max_tokens for dialects where it is
	// optional. Zero leaves the field unset.
	DefaultMaxTokens int

	// MaxBodyBytes caps the request body size. Default 10 MiB.
	MaxBodyBytes int64

	// Logger receives request logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Gateway translates vendor requests onto the provider router.
type Gateway struct {
	cfg Config
	log *slog.Logger
}

// New creates a gateway. The router is required.
func New(cfg Config) (*Gateway, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("gateway: router is required")
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{cfg: cfg, log: cfg.Logger}, nil
}

// handleCompletion is the shared entry point for every completion endpoint.
// forced pins the vendor dialect for vendor-specific routes; pass detectAuto
// on the shared paths to run the detection ladder. modelFromPath carries the
// model name for dialects that put it in the URL, streamFromPath forces
// streaming for dialects with a dedicated streaming route.
func (g *Gateway) handleCompletion(w http.ResponseWriter, r *http.Request, forced vendorChoice, modelFromPath string, streamFromPath bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, g.cfg.MaxBodyBytes+1))
	if err != nil {
		writeError(w, g.log, codec.ForKind(codec.VendorOpenAI),
			api.NewInternalError("reading request body").WithCause(err))
		return
	}
	if int64(len(body)) > g.cfg.MaxBodyBytes {
		writeError(w, g.log, codec.ForKind(codec.VendorOpenAI),
			api.NewConversionError("body", "request body exceeds size limit"))
		return
	}

	kind := forced.kind
	if !forced.fixed {
		kind = codec.Detect(body, r.Header)
	}
	observability.SetVendor(r.Context(), kind.String())
	c := codec.ForKind(kind)

	req, gerr := c.DecodeRequest(body)
	if gerr != nil {
		observability.ConversionErrorsTotal.WithLabelValues(kind.String()).Inc()
		writeError(w, g.log, c, gerr)
		return
	}

	if modelFromPath != "" {
		req.ModelHint = modelFromPath
	}
	if streamFromPath {
		req.Generation.Stream = true
	}
	g.applyDefaults(req)

	if req.Generation.Stream {
		g.streamCompletion(w, r, c, kind, req)
		return
	}
	g.invokeCompletion(w, r, c, kind, req)
}

// applyDefaults fills in the configured model, system prompt, and token
// ceiling where the request left them open.
func (g *Gateway) applyDefaults(req *api.Request) {
	if req.ModelHint == "" {
		req.ModelHint = g.cfg.DefaultModel
	}
	if g.cfg.DefaultSystemPrompt != "" && req.SystemText() == "" {
		system := api.Turn{Role: api.RoleSystem, Parts: []api.ContentPart{api.TextPart(g.cfg.DefaultSystemPrompt)}}
		req.Turns = append([]api.Turn{system}, req.Turns...)
	}
	if req.Generation.MaxTokens == nil && g.cfg.DefaultMaxTokens > 0 {
		mt := g.cfg.DefaultMaxTokens
		req.Generation.MaxTokens = &mt
	}
}

func (g *Gateway) invokeCompletion(w http.ResponseWriter, r *http.Request, c codec.Codec, kind codec.VendorKind, req *api.Request) {
	start := time.Now()
	resp, err := g.cfg.Router.Invoke(r.Context(), req)
	if err != nil {
		writeError(w, g.log, c, api.AsGatewayError(err))
		return
	}

	payload, err := c.EncodeResponse(resp)
	if err != nil {
		writeError(w, g.log, c, api.NewInternalError("encoding response").WithCause(err))
		return
	}

	g.recordExchange(r.Context(), kind, req, resp, false, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (g *Gateway) streamCompletion(w http.ResponseWriter, r *http.Request, c codec.Codec, kind codec.VendorKind, req *api.Request) {
	start := time.Now()
	events, err := g.cfg.Router.Stream(r.Context(), req)
	if err != nil {
		// Nothing has been written yet, so the error still gets a proper
		// status code and vendor envelope.
		writeError(w, g.log, c, api.AsGatewayError(err))
		return
	}

	enc := c.NewStreamEncoder()
	fw := newFrameWriter(w, enc.ContentType())

	// Accumulate the response for exchange recording.
	var (
		text       string
		responseID string
		usage      *api.Usage
		failed     bool
	)

	for evt := range events {
		switch evt.Type {
		case api.EventStarted:
			responseID = evt.ResponseID
		case api.EventDelta:
			text += evt.Delta
		case api.EventStopped:
			usage = evt.Usage
		case api.EventError:
			failed = true
		}

		for _, frame := range enc.Encode(evt) {
			if werr := fw.WriteFrame(frame); werr != nil {
				// Client went away; the router's watcher settles the
				// provider outcome when the context cancels upstream.
				g.log.Debug("stream write failed", "error", werr)
				return
			}
		}
	}

	if !failed {
		resp := &api.Response{
			ID:         responseID,
			Model:      req.ModelHint,
			Parts:      []api.ContentPart{api.TextPart(text)},
			StopReason: api.StopEndTurn,
		}
		if usage != nil {
			resp.Usage = *usage
		}
		g.recordExchange(r.Context(), kind, req, resp, true, time.Since(start))
	}
}

// recordExchange persists the completed exchange and its token usage.
// Storage failures are logged, never surfaced to the client.
func (g *Gateway) recordExchange(ctx context.Context, kind codec.VendorKind, req *api.Request, resp *api.Response, streamed bool, elapsed time.Duration) {
	observability.ObserveTokens("gateway", resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	if g.cfg.Store == nil {
		return
	}
	ex := &storage.Exchange{
		ID:           resp.ID,
		Vendor:       kind.String(),
		Model:        resp.Model,
		Provider:     "",
		Prompt:       codec.FlattenPrompt(req),
		Completion:   resp.Text(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Streamed:     streamed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := g.cfg.Store.SaveExchange(ctx, ex); err != nil {
		g.log.Warn("recording exchange failed", "id", ex.ID, "error", err)
	}
}

// vendorChoice optionally pins the dialect for a vendor-specific route.
type vendorChoice struct {
	fixed bool
	kind  codec.VendorKind
}

var detectAuto = vendorChoice{}

func forceVendor(k codec.VendorKind) vendorChoice {
	return vendorChoice{fixed: true, kind: k}
}
