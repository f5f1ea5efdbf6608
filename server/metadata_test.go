package server

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/giantswarm/mcp-oauth-proxy/providers/mock"
	"github.com/giantswarm/mcp-oauth-proxy/storage/memory"
)

func TestServer_Metadata(t *testing.T) {
	srv, err := New(mock.NewMockProvider(), memory.New(), nil, &Config{
		Issuer:          "https://proxy.example.com/",
		ScopesSupported: []string{"read", "write"},
	}, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	md := srv.Metadata()

	if md.Issuer != "https://proxy.example.com" {
		t.Errorf("Issuer = %q", md.Issuer)
	}
	if md.AuthorizationEndpoint != "https://proxy.example.com/oauth/authorize" {
		t.Errorf("AuthorizationEndpoint = %q", md.AuthorizationEndpoint)
	}
	if md.TokenEndpoint != "https://proxy.example.com/oauth/token" {
		t.Errorf("TokenEndpoint = %q", md.TokenEndpoint)
	}
	if md.RegistrationEndpoint != "https://proxy.example.com/oauth/register" {
		t.Errorf("RegistrationEndpoint = %q", md.RegistrationEndpoint)
	}
	if !slices.Equal(md.ResponseTypesSupported, []string{"code"}) {
		t.Errorf("ResponseTypesSupported = %v", md.ResponseTypesSupported)
	}
	if !slices.Equal(md.GrantTypesSupported, []string{"authorization_code", "refresh_token"}) {
		t.Errorf("GrantTypesSupported = %v", md.GrantTypesSupported)
	}
	if !slices.Equal(md.CodeChallengeMethodsSupported, []string{"S256"}) {
		t.Errorf("CodeChallengeMethodsSupported = %v", md.CodeChallengeMethodsSupported)
	}
	if !slices.Equal(md.ScopesSupported, []string{"read", "write"}) {
		t.Errorf("ScopesSupported = %v", md.ScopesSupported)
	}
}

func TestServer_Metadata_JSON(t *testing.T) {
	srv, err := New(mock.NewMockProvider(), memory.New(), nil, &Config{Issuer: testIssuer}, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	data, err := json.Marshal(srv.Metadata())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{
		"issuer", "authorization_endpoint", "token_endpoint", "registration_endpoint",
		"response_types_supported", "grant_types_supported",
		"code_challenge_methods_supported", "scopes_supported",
	} {
		if _, ok := doc[key]; !ok {
			t.Errorf("metadata JSON lacks %q", key)
		}
	}
	// An empty scope list is still an array, not null
	if scopes, ok := doc["scopes_supported"].([]any); !ok || len(scopes) != 0 {
		t.Errorf("scopes_supported = %#v, want []", doc["scopes_supported"])
	}
}
