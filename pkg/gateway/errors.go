package gateway

import (
	"log/slog"
	"net/http"

	"github.com/polygate/polygate/pkg/api"
	"github.com/polygate/polygate/pkg/codec"
)

// writeError is the single point where gateway errors become HTTP responses.
// The codec renders the error in the dialect the client spoke, so an OpenAI
// client sees an OpenAI error envelope even when the failure happened deep
// in a poll loop.
func writeError(w http.ResponseWriter, log *slog.Logger, c codec.Codec, ge *api.GatewayError) {
	if ge.Kind == api.KindInternal {
		log.Error("internal error", "error", ge.Error(), "cause", ge.Unwrap())
	} else {
		log.Debug("request error", "kind", string(ge.Kind), "error", ge.Error())
	}

	status, body := c.EncodeError(ge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
