package codec

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Model name prefixes recognized per vendor. Checked only after header and
// schema signals, which are more reliable.
var modelPrefixes = map[VendorKind][]string{
	VendorAnthropic: {"claude"},
	VendorGemini:    {"gemini", "models/gemini"},
	VendorOpenAI:    {"gpt", "o1", "o3", "o4", "chatgpt", "text-davinci"},
}

// Detect classifies an inbound request body as one of the vendor protocols.
// The decision ladder, first match wins:
//
//  1. a vendor-unique header (anthropic-version, x-goog-api-key)
//  2. a body field unique to one vendor's schema: the Gemini contents
//     array beats a generic messages field, and the Anthropic mandatory
//     max_tokens (or system) field beats generic messages
//  3. a recognized per-vendor model name prefix
//
// Detect never fails: anything unidentifiable is treated as OpenAI, the
// most common protocol, so the codec can still attempt a best-effort parse
// and report a conversion error if the payload is truly malformed.
func Detect(body []byte, header http.Header) VendorKind {
	if header != nil {
		if header.Get("anthropic-version") != "" || header.Get("x-api-key") != "" {
			return VendorAnthropic
		}
		if header.Get("x-goog-api-key") != "" || header.Get("x-goog-api-client") != "" {
			return VendorGemini
		}
	}

	parsed := gjson.ParseBytes(body)

	if parsed.Get("contents").IsArray() {
		return VendorGemini
	}
	if parsed.Get("systemInstruction").Exists() || parsed.Get("generationConfig").Exists() {
		return VendorGemini
	}

	if parsed.Get("messages").IsArray() {
		// max_tokens is mandatory in the Messages API and the system field
		// is a dedicated top-level field there, so either marks Anthropic.
		if parsed.Get("system").Exists() {
			return VendorAnthropic
		}
		if parsed.Get("max_tokens").Exists() && !parsed.Get("max_completion_tokens").Exists() {
			if kind, ok := detectByModel(parsed.Get("model").String()); ok && kind != VendorAnthropic {
				return kind
			}
			return VendorAnthropic
		}
	}

	if kind, ok := detectByModel(parsed.Get("model").String()); ok {
		return kind
	}
	return VendorOpenAI
}

func detectByModel(model string) (VendorKind, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return VendorOpenAI, false
	}
	for _, kind := range []VendorKind{VendorAnthropic, VendorGemini, VendorOpenAI} {
		for _, prefix := range modelPrefixes[kind] {
			if strings.HasPrefix(model, prefix) {
				return kind, true
			}
		}
	}
	return VendorOpenAI, false
}
