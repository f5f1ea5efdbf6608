package generic

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-oauth-proxy/providers"
)

// DefaultTimeout bounds the HTTP client used for token exchanges when no
// client is supplied.
const DefaultTimeout = 30 * time.Second

// Compile-time interface check
var _ providers.Provider = (*Provider)(nil)

// Config holds the upstream endpoints and the proxy's client identity.
type Config struct {
	// Name identifies the provider in logs and metrics. Defaults to "generic".
	Name string

	AuthorizationURL string
	TokenURL         string

	// ClientID is the proxy's own client id at upstream
	ClientID string

	// RedirectURL is the proxy's fixed callback URL registered upstream
	RedirectURL string

	// Scopes requested when the client asks for none
	Scopes []string

	// HTTPClient is used for token exchanges. Optional.
	HTTPClient *http.Client
}

// Provider implements providers.Provider on top of golang.org/x/oauth2.
type Provider struct {
	name       string
	config     *oauth2.Config
	httpClient *http.Client
}

// NewProvider creates a new generic provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.AuthorizationURL == "" {
		return nil, fmt.Errorf("authorization URL is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	name := cfg.Name
	if name == "" {
		name = "generic"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: DefaultTimeout,
		}
	}

	return &Provider{
		name: name,
		config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationURL,
				TokenURL: cfg.TokenURL,
				// Public client: client_id goes in the form body, no secret.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// AuthorizationURL builds the upstream authorization URL
func (p *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string, scopes []string) string {
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}

	if len(scopes) > 0 {
		tempConfig := *p.config
		tempConfig.Scopes = scopes
		return tempConfig.AuthCodeURL(state, opts...)
	}

	return p.config.AuthCodeURL(state, opts...)
}

// ExchangeCode redeems an upstream authorization code
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	token, err := providers.ExchangeCodeWithPKCE(ctx, p.config, p.httpClient, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	// oauth2 turns expires_in into an absolute Expiry; keep the relative
	// lifetime too so callers can apply their own clock.
	if token.ExpiresIn == 0 && !token.Expiry.IsZero() {
		if remaining := time.Until(token.Expiry).Round(time.Second); remaining > 0 {
			token.ExpiresIn = int64(remaining / time.Second)
		}
	}

	return token, nil
}
