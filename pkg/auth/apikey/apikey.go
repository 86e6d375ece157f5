// Package apikey provides an API key authenticator that validates client
// credentials against a static key store using SHA-256 hashing and
// constant-time comparison.
//
// Clients speak different vendor dialects, so the key is accepted from any
// of the vendor credential conventions: "Authorization: Bearer <key>"
// (OpenAI style), "x-api-key" (Anthropic style), or "x-goog-api-key"
// (Gemini style).
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/polygate/polygate/pkg/auth"
)

// ErrUnknownKey reports a credential that matches no configured key.
var ErrUnknownKey = errors.New("unknown api key")

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// Authenticator validates API keys against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

// New creates an API key authenticator from a list of raw keys and identities.
// Keys are hashed immediately; plaintext keys are not stored.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return a
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// extractKey pulls the API key from the request, trying the vendor
// credential conventions in order. The second return value reports whether
// any credential header was present at all.
func extractKey(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer "), true
		}
		return "", false
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		return key, true
	}
	if key := r.Header.Get("x-goog-api-key"); key != "" {
		return key, true
	}
	return "", false
}

// Authenticate extracts the API key and validates it.
// Returns Allow if valid, Deny if a credential is present but invalid,
// Skip if no credential header is present.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	key, present := extractKey(r)
	if !present {
		return auth.Result{Decision: auth.Skip}
	}
	if key == "" {
		return auth.Result{Decision: auth.Deny, Err: auth.ErrNoCredentials}
	}


	// Hash the key and compare against stored hashes.
	keyHash := sha256.Sum256([]byte(key))

	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(keyHash[:], entry.KeyHash[:]) == 1 {
			// Copy identity to avoid shared state.
			id := entry.Identity
			return auth.Result{Decision: auth.Allow, Identity: &id}
		}
	}

	// Credential present but not found.
	return auth.Result{Decision: auth.Deny, Err: ErrUnknownKey}
}
