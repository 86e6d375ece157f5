package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// verdict is a scripted authenticator.
type verdict struct {
	res Result
}

func (v verdict) Authenticate(context.Context, *http.Request) Result { return v.res }

func allow(subject string) verdict {
	return verdict{Result{Decision: Allow, Identity: &Identity{Subject: subject}}}
}

var (
	denied  = verdict{Result{Decision: Deny, Err: errors.New("bad key")}}
	skipped = verdict{Result{Decision: Skip}}
)

func TestChainStopsAtFirstVerdict(t *testing.T) {
	tests := []struct {
		name        string
		chain       *Chain
		want        Decision
		wantSubject string
	}{
		{"allow wins over later deny", NewChain(Deny, allow("alice"), denied), Allow, "alice"},
		{"deny stops the chain", NewChain(Deny, denied, allow("bob")), Deny, ""},
		{"skip falls through to allow", NewChain(Deny, skipped, allow("carol")), Allow, "carol"},
		{"all skip with deny fallback", NewChain(Deny, skipped, skipped), Deny, ""},
		{"all skip with allow fallback", NewChain(Allow, skipped), Allow, "anonymous"},
		{"empty chain uses fallback", NewChain(Deny), Deny, ""},
	}

	r := httptest.NewRequest("POST", "/v1/messages", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.chain.Authenticate(context.Background(), r)
			if res.Decision != tt.want {
				t.Fatalf("decision = %d, want %d (err=%v)", res.Decision, tt.want, res.Err)
			}
			if tt.wantSubject != "" && res.Identity.Subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", res.Identity.Subject, tt.wantSubject)
			}
			if res.Decision == Deny && res.Err == nil {
				t.Error("deny carries no error")
			}
		})
	}
}

func TestAnonymousFallbackIsCopied(t *testing.T) {
	chain := NewChain(Allow)
	r := httptest.NewRequest("GET", "/", nil)

	first := chain.Authenticate(context.Background(), r)
	first.Identity.Tenant = "mutated"

	second := chain.Authenticate(context.Background(), r)
	if second.Identity.Tenant != "" {
		t.Error("anonymous identity shared between requests")
	}
}

func TestHasScope(t *testing.T) {
	id := &Identity{Subject: "alice", Scopes: []string{"chat", "models"}}
	if !id.HasScope("chat") {
		t.Error("chat scope not found")
	}
	if id.HasScope("admin") {
		t.Error("admin scope should be absent")
	}

	var none *Identity
	if none.HasScope("chat") {
		t.Error("nil identity has no scopes")
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != nil {
		t.Error("expected nil identity on a bare context")
	}

	id := &Identity{Subject: "alice", Tenant: "org-1", Tier: "standard"}
	ctx = WithIdentity(ctx, id)
	got := FromContext(ctx)
	if got == nil || got.Subject != "alice" || got.Tenant != "org-1" {
		t.Errorf("got %+v", got)
	}
}
