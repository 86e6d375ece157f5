package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is an authenticator's verdict on one request.
type Decision int

const (
	// Allow accepts the request and attaches the caller's identity.
	Allow Decision = iota

	// Deny rejects the request. Credentials were presented and failed.
	Deny

	// Skip defers to the next authenticator. The request carries no
	// credential this authenticator understands.
	Skip
)

// Result is the outcome of an authentication attempt. Identity is set on
// Allow, Err on Deny.
type Result struct {
	Decision Decision
	Identity *Identity
	Err      error
}

// Identity describes an authenticated caller of the gateway.
type Identity struct {
	// Subject uniquely names the caller.
	Subject string

	// Tenant scopes the caller's stored exchanges. Empty means the
	// single-tenant default.
	Tenant string

	// Tier selects the caller's rate-limit allowance.
	Tier string

	// Scopes lists granted permissions.
	Scopes []string
}

// HasScope reports whether the identity carries the named scope.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator inspects a request's credentials and returns a verdict.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

var (
	// ErrNoCredentials is returned when no authenticator accepted the
	// request.
	ErrNoCredentials = errors.New("missing or invalid credentials")

	// ErrRateLimited is returned by a Limiter when the caller's allowance
	// is spent.
	ErrRateLimited = errors.New("request rate exceeded")
)

// Chain asks each authenticator in turn and stops at the first Allow or
// Deny. The fallback decides requests that every authenticator skipped:
// Allow serves them under an anonymous identity, Deny rejects them.
type Chain struct {
	authenticators []Authenticator
	fallback       Decision
}

// NewChain builds a chain with the given fallback decision.
func NewChain(fallback Decision, authenticators ...Authenticator) *Chain {
	return &Chain{authenticators: authenticators, fallback: fallback}
}

// Anonymous is the identity attached when an Allow fallback serves an
// uncredentialed request.
var Anonymous = Identity{Subject: "anonymous", Tier: "default"}

// Authenticate runs the chain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Skip {
			return res
		}
	}
	if c.fallback == Allow {
		id := Anonymous
		return Result{Decision: Allow, Identity: &id}
	}
	return Result{Decision: Deny, Err: ErrNoCredentials}
}
