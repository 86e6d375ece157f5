// Package codec implements the three vendor wire protocols the gateway
// speaks: Anthropic Messages, OpenAI Chat Completions, and Gemini
// generateContent.
//
// Each codec translates between its vendor's request/response/stream-event
// shapes and the canonical types in pkg/api. Field names in the wire structs
// are part of the compatibility surface; clients built against the vendor
// SDKs must work unmodified.
//
// The package also provides request format detection (Detect) and the
// flattened-prompt rendering used by backends that accept only plain text.
package codec
