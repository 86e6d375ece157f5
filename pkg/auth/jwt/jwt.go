// Package jwt authenticates bearer tokens issued by an external identity
// provider. Signatures are verified against the issuer's published JWKS;
// subject, tenant, tier, and scope claims map onto the gateway identity.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/polygate/polygate/pkg/auth"
)

// Config describes the trusted issuer and the claim mapping.
type Config struct {
	// Issuer must match the token's iss claim. Empty disables the check.
	Issuer string

	// Audience must appear in the token's aud claim. Empty disables the
	// check.
	Audience string

	// JWKSURL is where the issuer publishes its signing keys.
	JWKSURL string

	// SubjectClaim names the claim mapped to Identity.Subject. Default
	// "sub".
	SubjectClaim string

	// TenantClaim names the claim mapped to Identity.Tenant. Default
	// "tenant".
	TenantClaim string

	// TierClaim names the claim mapped to Identity.Tier. Default "tier".
	TierClaim string

	// ScopeClaim names the claim mapped to Identity.Scopes; the value may
	// be a space-separated string or a JSON array. Default "scope".
	ScopeClaim string

	// RefreshInterval caps how often the key set is refetched when a
	// token names an unknown kid. Default 5 minutes.
	RefreshInterval time.Duration

	// HTTPClient fetches the JWKS document. Default http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) withDefaults() {
	if c.SubjectClaim == "" {
		c.SubjectClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopeClaim == "" {
		c.ScopeClaim = "scope"
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates RSA-signed bearer tokens.
type Authenticator struct {
	cfg  Config
	keys *keyset
}

// New creates an authenticator trusting the issuer described by cfg.
func New(cfg Config) *Authenticator {
	cfg.withDefaults()
	return &Authenticator{
		cfg: cfg,
		keys: &keyset{
			url:      cfg.JWKSURL,
			client:   cfg.HTTPClient,
			interval: cfg.RefreshInterval,
		},
	}
}

// Authenticate verifies the Authorization bearer token. Requests without a
// bearer token are skipped so another authenticator in the chain can claim
// them; a present but invalid token is denied.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.Result{Decision: auth.Skip}
	}
	if raw == "" {
		return auth.Result{Decision: auth.Deny, Err: errors.New("empty bearer token")}
	}

	token, err := jwtlib.Parse(raw, a.verificationKey(ctx), a.parseOptions()...)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return auth.Result{Decision: auth.Deny, Err: fmt.Errorf("invalid token: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.Result{Decision: auth.Deny, Err: errors.New("invalid token claims")}
	}

	subject := stringClaim(claims, a.cfg.SubjectClaim)
	if subject == "" {
		return auth.Result{Decision: auth.Deny, Err: fmt.Errorf("token has no %q claim", a.cfg.SubjectClaim)}
	}

	return auth.Result{
		Decision: auth.Allow,
		Identity: &auth.Identity{
			Subject: subject,
			Tenant:  stringClaim(claims, a.cfg.TenantClaim),
			Tier:    stringClaim(claims, a.cfg.TierClaim),
			Scopes:  scopeClaim(claims, a.cfg.ScopeClaim),
		},
	}
}

// verificationKey resolves the token's kid against the key set.
func (a *Authenticator) verificationKey(ctx context.Context) jwtlib.Keyfunc {
	return func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("token signed with %v, want RSA", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return a.keys.lookup(ctx, kid)
	}
}

func (a *Authenticator) parseOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.cfg.Audience))
	}
	return opts
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

// scopeClaim accepts both scope encodings issuers use: "a b c" and
// ["a","b","c"].
func scopeClaim(claims jwtlib.MapClaims, name string) []string {
	switch v := claims[name].(type) {
	case string:
		return strings.Fields(v)
	case []any:
		var scopes []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	default:
		return nil
	}
}

// keyset holds the verification keys published at the JWKS URL. Keys are
// fetched lazily and refetched when a token names an unknown kid, at most
// once per refresh interval so forged kids cannot hammer the issuer.
type keyset struct {
	url      string
	client   *http.Client
	interval time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (k *keyset) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	if !k.fetchedAt.IsZero() && time.Since(k.fetchedAt) < k.interval {
		return nil, fmt.Errorf("no key %q in cached key set", kid)
	}
	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("issuer does not publish key %q", kid)
}

// refresh replaces the cached keys with the issuer's current set. Called
// with the lock held.
func (k *keyset) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("building JWKS request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	fresh := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, key := range doc.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := key.publicKey()
		if err != nil {
			slog.Warn("skipping unusable JWKS entry", "kid", key.Kid, "error", err)
			continue
		}
		fresh[key.Kid] = pub
	}

	k.keys = fresh
	k.fetchedAt = time.Now()
	slog.Debug("key set refreshed", "keys", len(fresh), "url", k.url)
	return nil
}

// jwk is the subset of a JSON Web Key this gateway verifies against.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j jwk) publicKey() (*rsa.PublicKey, error) {
	mod, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	exp, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	e := new(big.Int).SetBytes(exp)
	if !e.IsInt64() || e.Int64() > math.MaxInt32 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(mod), E: int(e.Int64())}, nil
}
