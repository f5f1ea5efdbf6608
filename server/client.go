package server

import (
	"context"

	"github.com/giantswarm/mcp-oauth-proxy/internal/util"
	"github.com/giantswarm/mcp-oauth-proxy/security"
)

// TokenEndpointAuthMethodNone is the only auth method issued clients get:
// they are public and rely on PKCE.
const TokenEndpointAuthMethodNone = "none"

// RegisterClient hands out a fresh client id. Registrations are not stored
// and nothing is validated; the proxy never looks the client up again.
func (s *Server) RegisterClient(ctx context.Context, req RegistrationRequest, clientIP string) (_ *RegistrationResponse, err error) {
	ctx, span := s.startSpan(ctx, "server.RegisterClient")
	defer func() { finishSpan(span, err) }()

	clientID, err := security.GenerateOpaqueID()
	if err != nil {
		return nil, ErrServerError("failed to generate client id", err)
	}

	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx)
	}
	s.Auditor.LogClientRegistered(clientID, req.ClientName, clientIP)
	s.Logger.Info("Registered client",
		"client_id", util.Redact(clientID),
		"client_name", req.ClientName,
		"redirect_uris", len(req.RedirectURIs))

	return &RegistrationResponse{
		ClientID:                clientID,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		ClientIDIssuedAt:        s.now().Unix(),
		TokenEndpointAuthMethod: TokenEndpointAuthMethodNone,
		GrantTypes:              []string{GrantTypeAuthorizationCode},
		ResponseTypes:           []string{ResponseTypeCode},
	}, nil
}
