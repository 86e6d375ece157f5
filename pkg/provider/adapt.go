package provider

import (
	"context"
	"strings"

	"github.com/polygate/polygate/pkg/api"
)

// CollectStream drains a canonical event stream into a single response.
// It lets the gateway answer a non-streaming request from a streaming or
// poll-based provider.
func CollectStream(ctx context.Context, events <-chan api.Event) (*api.Response, error) {
	resp := &api.Response{StopReason: api.StopEndTurn}
	var text strings.Builder
	toolArgs := map[string]*strings.Builder{}
	var toolOrder []string
	toolNames := map[string]string{}

	for {
		select {
		case <-ctx.Done():
			return nil, api.NewInternalError("stream collection cancelled").WithCause(ctx.Err())
		case evt, ok := <-events:
			if !ok {
				resp.Parts = assembleParts(text.String(), toolOrder, toolNames, toolArgs)
				return resp, nil
			}
			switch evt.Type {
			case api.EventStarted:
				resp.ID = evt.ResponseID
				resp.Model = evt.Model
			case api.EventDelta:
				text.WriteString(evt.Delta)
			case api.EventToolUseDelta:
				if evt.ToolUse == nil {
					continue
				}
				b, ok := toolArgs[evt.ToolUse.ID]
				if !ok {
					b = &strings.Builder{}
					toolArgs[evt.ToolUse.ID] = b
					toolOrder = append(toolOrder, evt.ToolUse.ID)
				}
				if evt.ToolUse.Name != "" {
					toolNames[evt.ToolUse.ID] = evt.ToolUse.Name
				}
				b.WriteString(evt.ToolUse.ArgsDelta)
			case api.EventStopped:
				resp.StopReason = evt.StopReason
				if evt.Usage != nil {
					resp.Usage = *evt.Usage
				}
				resp.Parts = assembleParts(text.String(), toolOrder, toolNames, toolArgs)
				return resp, nil
			case api.EventError:
				if evt.Err != nil {
					return nil, evt.Err
				}
				return nil, api.NewInternalError("stream failed")
			}
		}
	}
}

func assembleParts(text string, order []string, names map[string]string, args map[string]*strings.Builder) []api.ContentPart {
	var parts []api.ContentPart
	if text != "" {
		parts = append(parts, api.TextPart(text))
	}
	for _, id := range order {
		parts = append(parts, api.ContentPart{
			Type: api.PartToolUse,
			ToolUse: &api.ToolUseData{
				ID:    id,
				Name:  names[id],
				Input: []byte(args[id].String()),
			},
		})
	}
	if parts == nil {
		parts = []api.ContentPart{api.TextPart("")}
	}
	return parts
}

// SynthesizeStream turns a complete response into a canonical event stream.
// It lets the gateway answer a streaming request from a synchronous provider.
// The channel is closed after the terminal event.
func SynthesizeStream(resp *api.Response) <-chan api.Event {
	ch := make(chan api.Event, 4)
	go func() {
		defer close(ch)
		ch <- api.StartedEvent(resp.ID, resp.Model)
		for _, p := range resp.Parts {
			switch p.Type {
			case api.PartText:
				if p.Text != "" {
					ch <- api.DeltaEvent(p.Text)
				}
			case api.PartToolUse:
				if p.ToolUse != nil {
					ch <- api.Event{
						Type: api.EventToolUseDelta,
						ToolUse: &api.ToolUseDelta{
							ID:        p.ToolUse.ID,
							Name:      p.ToolUse.Name,
							ArgsDelta: string(p.ToolUse.Input),
						},
					}
				}
			}
		}
		usage := resp.Usage
		ch <- api.StoppedEvent(resp.StopReason, &usage)
	}()
	return ch
}
