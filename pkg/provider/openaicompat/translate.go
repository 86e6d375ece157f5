package openaicompat

import (
	"github.com/polygate/polygate/pkg/api"
)

// translateRequest converts a canonical request into the Chat Completions
// body. Tool-use parts become assistant tool_calls; tool-result parts become
// tool-role messages; images are dropped with their surrounding text kept.
func translateRequest(req *api.Request, stream bool) chatRequest {
	out := chatRequest{
		Model:       req.ModelHint,
		Temperature: req.Generation.Temperature,
		MaxTokens:   req.Generation.MaxTokens,
		TopP:        req.Generation.TopP,
		Stop:        req.Generation.StopSequences,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
	}

	for _, turn := range req.Turns {
		out.Messages = append(out.Messages, translateTurn(turn)...)
	}
	return out
}

func translateTurn(turn api.Turn) []chatMessage {
	role := "user"
	switch turn.Role {
	case api.RoleSystem:
		role = "system"
	case api.RoleAssistant:
		role = "assistant"
	}

	var msgs []chatMessage
	current := chatMessage{Role: role}
	flush := func() {
		if current.Content != "" || len(current.ToolCalls) > 0 {
			msgs = append(msgs, current)
			current = chatMessage{Role: role}
		}
	}

	for _, p := range turn.Parts {
		switch p.Type {
		case api.PartText:
			if current.Content != "" {
				current.Content += "\n"
			}
			current.Content += p.Text
		case api.PartToolUse:
			if p.ToolUse == nil {
				continue
			}
			tc := chatToolCall{ID: p.ToolUse.ID, Type: "function"}
			tc.Function.Name = p.ToolUse.Name
			tc.Function.Arguments = string(p.ToolUse.Input)
			current.ToolCalls = append(current.ToolCalls, tc)
		case api.PartToolResult:
			if p.ToolResult == nil {
				continue
			}
			// Tool results are their own message role on this protocol.
			flush()
			msgs = append(msgs, chatMessage{
				Role:       "tool",
				ToolCallID: p.ToolResult.ToolID,
				Content:    p.ToolResult.Content,
			})
		}
	}
	flush()
	return msgs
}

// translateResponse converts a chat.completion object into the canonical
// response, estimating usage when the backend supplies none.
func translateResponse(resp *chatResponse, req *api.Request) *api.Response {
	out := &api.Response{
		ID:         resp.ID,
		Model:      resp.Model,
		StopReason: api.StopEndTurn,
	}
	if out.ID == "" {
		out.ID = api.NewMessageID()
	}
	if out.Model == "" {
		out.Model = req.ModelHint
	}

	var text string
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message != nil {
			text = choice.Message.Content
			for _, tc := range choice.Message.ToolCalls {
				out.Parts = append(out.Parts, api.ContentPart{
					Type: api.PartToolUse,
					ToolUse: &api.ToolUseData{
						ID:    tc.ID,
						Name:  tc.Function.Name,
						Input: []byte(tc.Function.Arguments),
					},
				})
			}
		}
		if choice.FinishReason != nil {
			out.StopReason = translateFinishReason(*choice.FinishReason)
		}
	}
	if text != "" || len(out.Parts) == 0 {
		out.Parts = append([]api.ContentPart{api.TextPart(text)}, out.Parts...)
	}

	if resp.Usage != nil {
		out.Usage = api.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	} else {
		out.Usage = api.Usage{
			InputTokens:  api.EstimateRequestTokens(req),
			OutputTokens: api.EstimateTokens(text),
		}
	}
	return out
}

func translateFinishReason(reason string) api.StopReason {
	switch reason {
	case "length":
		return api.StopMaxTokens
	case "tool_calls":
		return api.StopToolUse
	case "content_filter":
		return api.StopEndTurn
	default:
		return api.StopEndTurn
	}
}
