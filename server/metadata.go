package server

import (
	"github.com/giantswarm/mcp-oauth-proxy/internal/util"
	"github.com/giantswarm/mcp-oauth-proxy/security"
)

// Metadata is the authorization server metadata document (RFC 8414).
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
}

// Metadata describes the proxy's endpoints and capabilities. refresh_token
// is advertised for client compatibility even though the grant always fails.
func (s *Server) Metadata() *Metadata {
	issuer := util.NormalizeURL(s.Config.Issuer)
	scopes := s.Config.ScopesSupported
	if scopes == nil {
		scopes = []string{}
	}
	return &Metadata{
		Issuer:                        issuer,
		AuthorizationEndpoint:         util.JoinURL(issuer, AuthorizationEndpointPath),
		TokenEndpoint:                 util.JoinURL(issuer, TokenEndpointPath),
		RegistrationEndpoint:          util.JoinURL(issuer, RegistrationEndpointPath),
		ResponseTypesSupported:        []string{ResponseTypeCode},
		GrantTypesSupported:           []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		CodeChallengeMethodsSupported: []string{security.PKCEMethodS256},
		ScopesSupported:               scopes,
	}
}
