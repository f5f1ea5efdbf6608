package server

import "time"

// AuthorizeRequest is a client's /authorize request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// CallbackResult is the outcome of a successful upstream callback.
type CallbackResult struct {
	// RedirectURL is the client redirect carrying the proxy code and state.
	RedirectURL string
	// Code is the proxy code embedded in RedirectURL.
	Code string
	// State is the client state embedded in RedirectURL.
	State string
}

// TokenRequest is an authorization_code grant. Only Code is enforced.
type TokenRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// TokenResponse is the token endpoint response body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenInfo is what an authenticated request is allowed to know about the
// upstream credentials behind its proxy access token.
type TokenInfo struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	ExpiresAt    time.Time
}

// RegistrationRequest is a dynamic client registration request (RFC 7591).
type RegistrationRequest struct {
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// RegistrationResponse is the registration result. Nothing is stored.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}
