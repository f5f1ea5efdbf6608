package generic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/mcp-oauth-proxy/providers"
)

func testConfig(tokenURL string) *Config {
	return &Config{
		AuthorizationURL: "https://upstream.example.com/authorize",
		TokenURL:         tokenURL,
		ClientID:         "proxy-client",
		RedirectURL:      "https://proxy.example.com/oauth/callback",
		Scopes:           []string{"openid"},
	}
}

func TestNewProvider_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing authorization URL", func(c *Config) { c.AuthorizationURL = "" }},
		{"missing token URL", func(c *Config) { c.TokenURL = "" }},
		{"missing client ID", func(c *Config) { c.ClientID = "" }},
		{"missing redirect URL", func(c *Config) { c.RedirectURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://upstream.example.com/token")
			tt.mutate(cfg)
			if _, err := NewProvider(cfg); err == nil {
				t.Error("NewProvider() should return error")
			}
		})
	}

	if _, err := NewProvider(nil); err == nil {
		t.Error("NewProvider(nil) should return error")
	}

	p, err := NewProvider(testConfig("https://upstream.example.com/token"))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Name() != "generic" {
		t.Errorf("Name() = %q, want generic", p.Name())
	}
}

func TestProvider_AuthorizationURL(t *testing.T) {
	p, err := NewProvider(testConfig("https://upstream.example.com/token"))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	tests := []struct {
		name      string
		scopes    []string
		wantScope string
	}{
		{"configured scopes", nil, "openid"},
		{"requested scopes", []string{"read", "write"}, "read write"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := p.AuthorizationURL("txn-id", "challenge", "S256", tt.scopes)
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatalf("invalid URL %q: %v", raw, err)
			}
			if u.Host != "upstream.example.com" || u.Path != "/authorize" {
				t.Errorf("URL = %q, want upstream authorize endpoint", raw)
			}
			q := u.Query()
			want := map[string]string{
				"response_type":         "code",
				"client_id":             "proxy-client",
				"redirect_uri":          "https://proxy.example.com/oauth/callback",
				"state":                 "txn-id",
				"code_challenge":        "challenge",
				"code_challenge_method": "S256",
				"scope":                 tt.wantScope,
			}
			for k, v := range want {
				if got := q.Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
			if q.Has("code_verifier") || q.Has("client_secret") {
				t.Error("authorization URL must not carry verifier or secret")
			}
		})
	}
}

func TestProvider_ExchangeCode(t *testing.T) {
	var gotForm url.Values
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"upstream-at","refresh_token":"upstream-rt","token_type":"Bearer","expires_in":1800}`))
	}))
	defer upstream.Close()

	p, err := NewProvider(testConfig(upstream.URL))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	tok, err := p.ExchangeCode(context.Background(), "upstream-code", "the-verifier")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if tok.AccessToken != "upstream-at" || tok.RefreshToken != "upstream-rt" {
		t.Errorf("token = %+v", tok)
	}
	if tok.ExpiresIn < 1790 || tok.ExpiresIn > 1800 {
		t.Errorf("ExpiresIn = %d, want about 1800", tok.ExpiresIn)
	}

	want := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "upstream-code",
		"code_verifier": "the-verifier",
		"client_id":     "proxy-client",
		"redirect_uri":  "https://proxy.example.com/oauth/callback",
	}
	for k, v := range want {
		if got := gotForm.Get(k); got != v {
			t.Errorf("form %s = %q, want %q", k, got, v)
		}
	}
	if gotForm.Has("client_secret") || gotAuth != "" {
		t.Error("exchange must not send client credentials")
	}
}

func TestProvider_ExchangeCode_NoExpiresIn(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"upstream-at","token_type":"Bearer"}`))
	}))
	defer upstream.Close()

	p, _ := NewProvider(testConfig(upstream.URL))
	tok, err := p.ExchangeCode(context.Background(), "code", "verifier")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if tok.ExpiresIn != 0 {
		t.Errorf("ExpiresIn = %d, want 0 when upstream omits it", tok.ExpiresIn)
	}
}

func TestProvider_ExchangeCode_UpstreamRejects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad verifier"}`))
	}))
	defer upstream.Close()

	p, _ := NewProvider(testConfig(upstream.URL))
	_, err := p.ExchangeCode(context.Background(), "code", "verifier")

	var ee *providers.ExchangeError
	if !errors.As(err, &ee) {
		t.Fatalf("error = %v, want *providers.ExchangeError", err)
	}
	if ee.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", ee.StatusCode)
	}
	if ee.ErrorCode != "invalid_grant" {
		t.Errorf("ErrorCode = %q, want invalid_grant", ee.ErrorCode)
	}
	if !strings.Contains(ee.Body, "bad verifier") {
		t.Errorf("Body = %q, want upstream body", ee.Body)
	}
}

func TestProvider_ExchangeCode_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	p, _ := NewProvider(testConfig(upstream.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.ExchangeCode(ctx, "code", "verifier")
	if err == nil {
		t.Fatal("ExchangeCode() should fail on timeout")
	}
	if !providers.IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
}
