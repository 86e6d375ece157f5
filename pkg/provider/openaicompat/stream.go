package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/polygate/polygate/pkg/api"
)

// parseSSEStream reads Chat Completions SSE chunks from body, translates
// them into canonical events, and sends them on ch. The channel is NOT
// closed here; the caller closes it.
//
// Expected framing:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//
// Malformed chunks are logged and skipped. Context cancellation stops
// reading immediately.
func parseSSEStream(ctx context.Context, body io.Reader, req *api.Request, ch chan<- api.Event) {
	started := false
	stopped := false
	var stopReason api.StopReason = api.StopEndTurn
	var usage *api.Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk", "error", err.Error())
			continue
		}

		if !started {
			id := chunk.ID
			if id == "" {
				id = api.NewMessageID()
			}
			model := chunk.Model
			if model == "" {
				model = req.ModelHint
			}
			ch <- api.StartedEvent(id, model)
			started = true
		}

		if chunk.Usage != nil {
			usage = &api.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta != nil {
			if choice.Delta.Content != nil && *choice.Delta.Content != "" {
				ch <- api.DeltaEvent(*choice.Delta.Content)
			}
			for _, tc := range choice.Delta.ToolCalls {
				ch <- api.Event{
					Type: api.EventToolUseDelta,
					ToolUse: &api.ToolUseDelta{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						ArgsDelta: tc.Function.Arguments,
					},
				}
			}
		}
		if choice.FinishReason != nil {
			stopReason = translateFinishReason(*choice.FinishReason)
			stopped = true
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		ch <- api.ErrorEvent(api.NewProviderUnavailableError("backend stream read error").WithCause(err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	if !started {
		ch <- api.StartedEvent(api.NewMessageID(), req.ModelHint)
	}
	if !stopped && usage == nil {
		// Stream ended without a finish chunk. Report what we know.
		usage = &api.Usage{InputTokens: api.EstimateRequestTokens(req)}
	}
	ch <- api.StoppedEvent(stopReason, usage)
}
