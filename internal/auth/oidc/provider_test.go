package oidc

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/crm-platform/crm/internal/config"
)

// newMockProvider constructs a Provider directly without network calls,
// pointing the token endpoint at an unreachable URL so error paths work.
func newMockProvider() *Provider {
	return &Provider{
		config: &oauth2.Config{
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			RedirectURL:  "http://localhost/callback",
			Scopes:       []string{"openid", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.example.com/auth",
				TokenURL: "http://127.0.0.1:1/token", // port 1: always refused
			},
		},
	}
}

func TestNewProvider_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.OIDCConfig
	}{
		{"disabled", config.OIDCConfig{Enabled: false}},
		{"missing issuer", config.OIDCConfig{Enabled: true, ClientID: "c", ClientSecret: "s"}},
		{"missing client id", config.OIDCConfig{Enabled: true, IssuerURL: "https://example.com", ClientSecret: "s"}},
		{"missing client secret", config.OIDCConfig{Enabled: true, IssuerURL: "https://example.com", ClientID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(&tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestAuthURL(t *testing.T) {
	url := newMockProvider().AuthURL("state-123")
	for _, want := range []string{"state=state-123", "client_id=test-client", "response_type=code"} {
		if !strings.Contains(url, want) {
			t.Errorf("AuthURL = %q, want to contain %q", url, want)
		}
	}
}

func TestExchange_NetworkError(t *testing.T) {
	if _, err := newMockProvider().Exchange(context.Background(), "some-code"); err == nil {
		t.Error("Exchange expected error for unreachable token endpoint, got nil")
	}
}
