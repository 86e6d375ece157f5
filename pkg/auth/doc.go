// Package auth authenticates gateway callers before any dialect handler
// runs.
//
// Authenticators are composed into a Chain. Each one either accepts the
// request (Allow), rejects it (Deny), or passes on credentials it does not
// understand (Skip); a configurable fallback decides requests every
// authenticator skipped. Because callers speak different vendor dialects,
// credentials arrive in any of the vendor conventions: an Authorization
// Bearer header, x-api-key, or x-goog-api-key.
//
// The Middleware wires the chain in front of an http.Handler, enforces an
// optional per-tier rate limit, and propagates the caller's tenant into
// the storage layer for multi-tenant scoping.
package auth
