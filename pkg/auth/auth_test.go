package auth

import (
	"context"
	"net/http"
	"testing"
)

// mockAuthn is a test authenticator with configurable behavior.
type mockAuthn struct {
	result AuthResult
}

func (m *mockAuthn) Authenticate(_ context.Context, _ *http.Request) AuthResult {
	return m.result
}

func TestAuthChain(t *testing.T) {
	yes := func(subject string) Authenticator {
		return &mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: subject}}}
	}
	no := &mockAuthn{result: AuthResult{Decision: No, Err: ErrUnauthenticated}}
	abstain := &mockAuthn{result: AuthResult{Decision: Abstain}}

	tests := []struct {
		name     string
		chain    []Authenticator
		fallback AuthDecision
		want     AuthDecision
		subject  string
	}{
		{"first yes stops", []Authenticator{yes("svc-ranker"), no}, No, Yes, "svc-ranker"},
		{"first no stops", []Authenticator{no, yes("ops")}, No, No, ""},
		{"abstain then yes", []Authenticator{abstain, yes("ops")}, No, Yes, "ops"},
		{"all abstain rejects", []Authenticator{abstain, abstain}, No, No, ""},
		{"all abstain accepts anonymously", []Authenticator{abstain}, Yes, Yes, "anonymous"},
		{"empty chain", nil, No, No, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &AuthChain{Authenticators: tt.chain, DefaultDecision: tt.fallback}
			r, _ := http.NewRequest("POST", "/v2/models/ranker/infer", nil)
			result := chain.Authenticate(context.Background(), r)
			if result.Decision != tt.want {
				t.Fatalf("Decision = %d, want %d", result.Decision, tt.want)
			}
			if tt.subject != "" && result.Identity.Subject != tt.subject {
				t.Errorf("Subject = %q, want %q", result.Identity.Subject, tt.subject)
			}
		})
	}
}

func TestIdentity_Access(t *testing.T) {
	id := &Identity{Subject: "alice", Scopes: []string{"infer", "admin"}, Models: []string{"ranker"}}
	if !id.HasScope("admin") || id.HasScope("write") {
		t.Errorf("HasScope mismatch for scopes %v", id.Scopes)
	}
	if !id.CanUseModel("ranker") || id.CanUseModel("other") {
		t.Errorf("CanUseModel mismatch for models %v", id.Models)
	}

	open := &Identity{Subject: "bob"}
	if !open.CanUseModel("anything") {
		t.Error("identity without model list should reach every model")
	}
	wildcard := &Identity{Subject: "carol", Models: []string{"*"}}
	if !wildcard.CanUseModel("anything") {
		t.Error("wildcard model list should reach every model")
	}

	var none *Identity
	if none.HasScope("admin") || none.CanUseModel("ranker") {
		t.Error("nil identity must not be granted anything")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", true},
	}
	for _, tt := range tests {
		r, _ := http.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		token, ok := BearerToken(r)
		if token != tt.token || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	if _, ok := FromContext(ctx); ok {
		t.Error("empty context reports an identity")
	}
	if _, ok := FromContext(NewContext(ctx, nil)); ok {
		t.Error("nil identity reported as present")
	}

	got, ok := FromContext(NewContext(ctx, &Identity{Subject: "alice"}))
	if !ok || got.Subject != "alice" {
		t.Errorf("FromContext = %v, %v; want alice", got, ok)
	}
}
