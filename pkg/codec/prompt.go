package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/polygate/polygate/pkg/api"
)

// FlattenPrompt renders a canonical request as a single plain-text prompt
// for backends that accept no structured conversation. Each turn becomes a
// role-labelled paragraph. Tool-use blocks are rendered as one synthesized
// text segment (name, id, and JSON-encoded input); structured backends never
// see this rendering and receive the blocks unchanged.
func FlattenPrompt(req *api.Request) string {
	var b strings.Builder
	for _, turn := range req.Turns {
		label := flattenRoleLabel(turn.Role)
		body := flattenParts(turn.Parts)
		if body == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(body)
	}
	return b.String()
}

func flattenRoleLabel(role api.Role) string {
	switch role {
	case api.RoleSystem:
		return "System"
	case api.RoleAssistant:
		return "Assistant"
	default:
		return "Human"
	}
}

func flattenParts(parts []api.ContentPart) string {
	var segments []string
	for _, p := range parts {
		switch p.Type {
		case api.PartText:
			if p.Text != "" {
				segments = append(segments, p.Text)
			}
		case api.PartToolUse:
			if p.ToolUse != nil {
				segments = append(segments, renderToolUse(p.ToolUse))
			}
		case api.PartToolResult:
			if p.ToolResult != nil {
				segments = append(segments, fmt.Sprintf("[tool result %s] %s", p.ToolResult.ToolID, p.ToolResult.Content))
			}
		case api.PartImage:
			segments = append(segments, "[image]")
		}
	}
	return strings.Join(segments, "\n")
}

// renderToolUse produces the single synthesized text segment for a tool-use
// block: tool name, id, and JSON-encoded input.
func renderToolUse(tu *api.ToolUseData) string {
	input := "{}"
	if len(tu.Input) > 0 {
		if compact, err := compactJSON(tu.Input); err == nil {
			input = compact
		} else {
			input = string(tu.Input)
		}
	}
	return fmt.Sprintf("[tool use %s (%s)] %s", tu.Name, tu.ID, input)
}

func compactJSON(raw json.RawMessage) (string, error) {
	var b strings.Builder
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	enc := json.NewEncoder(&b)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
