package codec

import (
	"github.com/polygate/polygate/pkg/api"
)

// VendorKind is the closed set of wire protocols the gateway understands.
type VendorKind int

const (
	// VendorOpenAI is the Chat Completions protocol (POST /v1/chat/completions).
	// It is also the detection default.
	VendorOpenAI VendorKind = iota

	// VendorAnthropic is the Messages protocol (POST /v1/messages).
	VendorAnthropic

	// VendorGemini is the generateContent protocol (POST .../generateContent).
	VendorGemini
)

// String returns the vendor identifier used in logs and metrics labels.
func (k VendorKind) String() string {
	switch k {
	case VendorOpenAI:
		return "openai"
	case VendorAnthropic:
		return "anthropic"
	case VendorGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// Codec translates one vendor protocol to and from the canonical model.
// Implementations are stateless and safe for concurrent use; per-stream
// framing state lives in the StreamEncoder.
type Codec interface {
	// Kind identifies the vendor protocol.
	Kind() VendorKind

	// DecodeRequest parses a vendor request body into the canonical request.
	// Malformed payloads produce a conversion error naming the offending
	// field; semantic content is never silently dropped.
	DecodeRequest(body []byte) (*api.Request, *api.GatewayError)

	// EncodeResponse renders a canonical response in the vendor's
	// non-streaming JSON shape.
	EncodeResponse(resp *api.Response) ([]byte, error)

	// NewStreamEncoder returns a fresh per-request encoder that synthesizes
	// the vendor's streaming frames purely from the canonical event stream.
	NewStreamEncoder() StreamEncoder

	// EncodeError renders a gateway error in the vendor's own error
	// envelope, returning the HTTP status code and body.
	EncodeError(ge *api.GatewayError) (int, []byte)
}

// StreamEncoder converts a sequence of canonical events into fully rendered
// vendor stream frames, ready to be written to the client verbatim. One
// canonical event may produce zero or more frames.
type StreamEncoder interface {
	// Encode renders the frames for one event. After a terminal event the
	// encoder is exhausted; further calls return no frames.
	Encode(evt api.Event) [][]byte

	// ContentType is the response content type for this vendor's stream.
	ContentType() string
}

// ForKind returns the codec for a vendor. The switch is exhaustive over
// VendorKind; an unknown value falls back to the OpenAI codec, mirroring
// the detection default.
func ForKind(k VendorKind) Codec {
	switch k {
	case VendorAnthropic:
		return AnthropicCodec{}
	case VendorGemini:
		return GeminiCodec{}
	case VendorOpenAI:
		return OpenAICodec{}
	default:
		return OpenAICodec{}
	}
}

// HTTPStatusForKind maps a gateway error kind onto the HTTP status code
// shared by all vendor envelopes. Job timeouts are deliberately distinct
// from job failures.
func HTTPStatusForKind(kind api.ErrorKind) int {
	switch kind {
	case api.KindConversion:
		return 400
	case api.KindRateLimited:
		return 429
	case api.KindProviderUnavailable:
		return 503
	case api.KindJobFailed:
		return 502
	case api.KindJobTimeout:
		return 504
	default:
		return 500
	}
}
