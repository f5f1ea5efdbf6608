package providers

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// Provider is the upstream authorization server as seen by the proxy.
type Provider interface {
	// Name returns the provider name used in logs and metrics
	Name() string

	// AuthorizationURL returns the upstream authorization URL the user agent is
	// redirected to. state is echoed back on the callback; codeChallenge and
	// codeChallengeMethod carry the proxy's own PKCE challenge. Empty scopes
	// fall back to the provider's configured scopes.
	AuthorizationURL(state, codeChallenge, codeChallengeMethod string, scopes []string) string

	// ExchangeCode redeems an upstream authorization code using the PKCE
	// verifier that matches the challenge sent in AuthorizationURL.
	//
	// A non-2xx response from upstream is reported as *ExchangeError.
	// Token.ExpiresIn is zero when upstream did not send expires_in.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)
}

// ExchangeError is returned when the upstream token endpoint answers with a
// non-success status.
type ExchangeError struct {
	// StatusCode is the HTTP status returned by upstream
	StatusCode int

	// Body is the raw response body, truncated for safety
	Body string

	// ErrorCode is the RFC 6749 error code, if upstream sent one
	ErrorCode string

	// ErrorDescription is the RFC 6749 error_description, if upstream sent one
	ErrorDescription string
}

func (e *ExchangeError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("upstream token endpoint returned %d: %s", e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("upstream token endpoint returned %d", e.StatusCode)
}
