package openaicompat

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/polygate/polygate/pkg/api"
)

// mapHTTPError converts a non-2xx backend response into a gateway error.
// The backend's own error message is carried when it can be parsed.
func mapHTTPError(resp *http.Response) *api.GatewayError {
	msg := "backend returned HTTP " + resp.Status
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var env chatErrorEnvelope
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return api.NewRateLimitedError(msg)
	case resp.StatusCode >= 500:
		return api.NewProviderUnavailableError(msg)
	default:
		return api.NewJobFailedError(msg)
	}
}

// mapNetworkError converts a transport-level failure into a gateway error.
func mapNetworkError(err error) *api.GatewayError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return api.NewProviderUnavailableError("backend request timed out").WithCause(err)
	}
	return api.NewProviderUnavailableError("backend unreachable").WithCause(err)
}
