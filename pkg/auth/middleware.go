package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/polygate/polygate/pkg/observability"
	"github.com/polygate/polygate/pkg/storage"
)

// DefaultBypassEndpoints are served without credentials.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware guards the dialect handlers with the chain and an optional
// limiter. On Allow the identity lands in the request context, and when it
// names a tenant, exchange storage is scoped to that tenant for the rest of
// the request.
func Middleware(chain *Chain, limiter Limiter, bypass []string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(bypass))
	for _, path := range bypass {
		open[path] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Allow || res.Identity == nil || res.Identity.Subject == "" {
				slog.Warn("request rejected",
					"path", r.URL.Path, "remote", r.RemoteAddr, "error", res.Err)
				deny(w, http.StatusUnauthorized, "authentication_error", "missing or invalid credentials")
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), res.Identity); err != nil {
					tier := res.Identity.Tier
					if tier == "" {
						tier = "default"
					}
					slog.Warn("request throttled", "subject", res.Identity.Subject, "tier", tier)
					observability.RateLimitRejectedTotal.WithLabelValues(tier).Inc()
					deny(w, http.StatusTooManyRequests, "rate_limit_error", "request rate exceeded")
					return
				}
			}

			ctx := WithIdentity(r.Context(), res.Identity)
			if res.Identity.Tenant != "" {
				ctx = storage.SetTenant(ctx, res.Identity.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// deny writes the gateway's generic error envelope. Rejections happen
// before format detection, so no vendor codec is involved.
func deny(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"type":"error","error":{"type":%q,"message":%q}}`, errType, msg)
}
