package api

import "unicode/utf8"

// EstimateTokens approximates the token count of a text as
// max(1, ceil(chars/4)). The divisor is a documented approximation;
// backends that report authoritative counts override estimates.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	tokens := (n + 3) / 4
	if tokens < 1 {
		return 1
	}
	return tokens
}

// EstimateRequestTokens estimates the input token count of a request by
// summing the estimates of every text-bearing part, including tool inputs
// and tool results.
func EstimateRequestTokens(r *Request) int {
	total := 0
	for _, turn := range r.Turns {
		for _, part := range turn.Parts {
			switch part.Type {
			case PartText:
				total += EstimateTokens(part.Text)
			case PartToolUse:
				if part.ToolUse != nil {
					total += EstimateTokens(part.ToolUse.Name + string(part.ToolUse.Input))
				}
			case PartToolResult:
				if part.ToolResult != nil {
					total += EstimateTokens(part.ToolResult.Content)
				}
			}
		}
	}
	if total < 1 {
		return 1
	}
	return total
}
