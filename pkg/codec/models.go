package codec

import "encoding/json"

// EncodeModelList renders the configured model names in the vendor's own
// model-listing shape.
func EncodeModelList(kind VendorKind, models []string) ([]byte, error) {
	switch kind {
	case VendorAnthropic:
		type entry struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			DisplayName string `json:"display_name,omitempty"`
		}
		out := struct {
			Data    []entry `json:"data"`
			HasMore bool    `json:"has_more"`
		}{Data: make([]entry, 0, len(models))}
		for _, m := range models {
			out.Data = append(out.Data, entry{ID: m, Type: "model", DisplayName: m})
		}
		return json.Marshal(out)

	case VendorGemini:
		type entry struct {
			Name                       string   `json:"name"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		}
		out := struct {
			Models []entry `json:"models"`
		}{Models: make([]entry, 0, len(models))}
		for _, m := range models {
			out.Models = append(out.Models, entry{
				Name:                       "models/" + m,
				SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent"},
			})
		}
		return json.Marshal(out)

	default:
		type entry struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			OwnedBy string `json:"owned_by"`
		}
		out := struct {
			Object string  `json:"object"`
			Data   []entry `json:"data"`
		}{Object: "list", Data: make([]entry, 0, len(models))}
		for _, m := range models {
			out.Data = append(out.Data, entry{ID: m, Object: "model", OwnedBy: "polygate"})
		}
		return json.Marshal(out)
	}
}

// EncodeTokenCount renders the Anthropic count_tokens response.
func EncodeTokenCount(inputTokens int) ([]byte, error) {
	return json.Marshal(struct {
		InputTokens int `json:"input_tokens"`
	}{InputTokens: inputTokens})
}
