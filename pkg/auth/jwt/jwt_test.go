package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/polygate/polygate/pkg/auth"
)

// issuer is a fake identity provider: a signing key plus a JWKS endpoint
// publishing it.
type issuer struct {
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int64
}

func newIssuer(t *testing.T) *issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating signing key: %v", err)
	}
	iss := &issuer{key: key, kid: "kid-1"}
	iss.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iss.fetches.Add(1)
		pub := &iss.key.PublicKey
		fmt.Fprintf(w, `{"keys":[{"kty":"RSA","kid":%q,"use":"sig","n":%q,"e":%q}]}`,
			iss.kid,
			base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		)
	}))
	t.Cleanup(iss.server.Close)
	return iss
}

// sign issues a token with the standard validity claims plus extras.
func (iss *issuer) sign(t *testing.T, extras map[string]any) string {
	t.Helper()
	claims := jwtlib.MapClaims{
		"iss": "https://issuer.test",
		"aud": "polygate",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range extras {
		claims[k] = v
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	token.Header["kid"] = iss.kid
	signed, err := token.SignedString(iss.key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func (iss *issuer) authenticator() *Authenticator {
	return New(Config{
		Issuer:   "https://issuer.test",
		Audience: "polygate",
		JWKSURL:  iss.server.URL,
	})
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest("POST", "/v1/messages", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthenticateDecisions(t *testing.T) {
	iss := newIssuer(t)
	a := iss.authenticator()

	stale := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims{
		"iss": "https://issuer.test",
		"aud": "polygate",
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	stale.Header["kid"] = iss.kid
	expired, err := stale.SignedString(iss.key)
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}

	empty := httptest.NewRequest("POST", "/v1/messages", nil)
	empty.Header.Set("Authorization", "Bearer ")

	tests := []struct {
		name    string
		request *http.Request
		want    auth.Decision
	}{
		{"valid token", bearerRequest(iss.sign(t, nil)), auth.Allow},
		{"no authorization header", bearerRequest(""), auth.Skip},
		{"empty bearer value", empty, auth.Deny},
		{"garbage token", bearerRequest("not.a.jwt"), auth.Deny},
		{"expired token", bearerRequest(expired), auth.Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Authenticate(tt.request.Context(), tt.request)
			if res.Decision != tt.want {
				t.Errorf("decision = %d, want %d (err=%v)", res.Decision, tt.want, res.Err)
			}
		})
	}
}

func TestNonBearerSchemeIsSkipped(t *testing.T) {
	iss := newIssuer(t)
	a := iss.authenticator()

	r := httptest.NewRequest("POST", "/v1/messages", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if res := a.Authenticate(r.Context(), r); res.Decision != auth.Skip {
		t.Errorf("decision = %d, want skip", res.Decision)
	}
}

func TestClaimsMapToIdentity(t *testing.T) {
	iss := newIssuer(t)
	a := iss.authenticator()

	r := bearerRequest(iss.sign(t, map[string]any{
		"tenant": "org-1",
		"tier":   "enterprise",
		"scope":  "chat models",
	}))
	res := a.Authenticate(r.Context(), r)
	if res.Decision != auth.Allow {
		t.Fatalf("decision = %d (err=%v)", res.Decision, res.Err)
	}
	id := res.Identity
	if id.Subject != "user-1" || id.Tenant != "org-1" || id.Tier != "enterprise" {
		t.Errorf("identity = %+v", id)
	}
	if len(id.Scopes) != 2 || !id.HasScope("models") {
		t.Errorf("scopes = %v", id.Scopes)
	}
}

func TestScopeArrayClaim(t *testing.T) {
	iss := newIssuer(t)
	a := iss.authenticator()

	r := bearerRequest(iss.sign(t, map[string]any{"scope": []string{"chat", "admin"}}))
	res := a.Authenticate(r.Context(), r)
	if res.Decision != auth.Allow {
		t.Fatalf("decision = %d (err=%v)", res.Decision, res.Err)
	}
	if !res.Identity.HasScope("admin") {
		t.Errorf("scopes = %v", res.Identity.Scopes)
	}
}

func TestCustomClaimNames(t *testing.T) {
	iss := newIssuer(t)
	a := New(Config{
		JWKSURL:      iss.server.URL,
		SubjectClaim: "email",
		TenantClaim:  "https://polygate.dev/org",
		TierClaim:    "https://polygate.dev/plan",
	})

	r := bearerRequest(iss.sign(t, map[string]any{
		"email":                     "alice@example.com",
		"https://polygate.dev/org":  "org-9",
		"https://polygate.dev/plan": "pro",
	}))
	res := a.Authenticate(r.Context(), r)
	if res.Decision != auth.Allow {
		t.Fatalf("decision = %d (err=%v)", res.Decision, res.Err)
	}
	if res.Identity.Subject != "alice@example.com" || res.Identity.Tenant != "org-9" || res.Identity.Tier != "pro" {
		t.Errorf("identity = %+v", res.Identity)
	}
}

func TestMissingSubjectClaimDenied(t *testing.T) {
	iss := newIssuer(t)
	a := New(Config{JWKSURL: iss.server.URL, SubjectClaim: "uid"})

	r := bearerRequest(iss.sign(t, nil))
	if res := a.Authenticate(r.Context(), r); res.Decision != auth.Deny {
		t.Errorf("decision = %d, want deny", res.Decision)
	}
}

func TestKeySetFetchedOnce(t *testing.T) {
	iss := newIssuer(t)
	a := iss.authenticator()

	for i := 0; i < 5; i++ {
		r := bearerRequest(iss.sign(t, nil))
		if res := a.Authenticate(r.Context(), r); res.Decision != auth.Allow {
			t.Fatalf("request %d: decision = %d (err=%v)", i, res.Decision, res.Err)
		}
	}
	if n := iss.fetches.Load(); n != 1 {
		t.Errorf("JWKS fetched %d times, want 1", n)
	}
}

func TestKeyRotationTriggersRefetch(t *testing.T) {
	iss := newIssuer(t)
	a := iss.authenticator()

	r := bearerRequest(iss.sign(t, nil))
	if res := a.Authenticate(r.Context(), r); res.Decision != auth.Allow {
		t.Fatalf("pre-rotation: decision = %d (err=%v)", res.Decision, res.Err)
	}

	// Rotate the signing key and expire the throttle so the unknown kid
	// forces a refetch.
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rotated key: %v", err)
	}
	iss.key, iss.kid = key, "kid-2"
	a.keys.mu.Lock()
	a.keys.fetchedAt = time.Time{}
	a.keys.mu.Unlock()

	r = bearerRequest(iss.sign(t, nil))
	if res := a.Authenticate(r.Context(), r); res.Decision != auth.Allow {
		t.Fatalf("post-rotation: decision = %d (err=%v)", res.Decision, res.Err)
	}
	if n := iss.fetches.Load(); n != 2 {
		t.Errorf("JWKS fetched %d times, want 2", n)
	}
}

func TestUnknownKidRefetchThrottled(t *testing.T) {
	iss := newIssuer(t)
	a := iss.authenticator()

	// Prime the cache with the published key.
	r := bearerRequest(iss.sign(t, nil))
	if res := a.Authenticate(r.Context(), r); res.Decision != auth.Allow {
		t.Fatalf("priming: decision = %d (err=%v)", res.Decision, res.Err)
	}

	// Sign with a key the issuer never publishes.
	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rogue key: %v", err)
	}
	forged := &issuer{key: rogue, kid: "forged"}

	for i := 0; i < 3; i++ {
		r := bearerRequest(forged.sign(t, nil))
		if res := a.Authenticate(r.Context(), r); res.Decision != auth.Deny {
			t.Fatalf("forged token %d: decision = %d", i, res.Decision)
		}
	}
	if n := iss.fetches.Load(); n != 1 {
		t.Errorf("JWKS fetched %d times, want 1; forged kids must not force refetches", n)
	}
}
