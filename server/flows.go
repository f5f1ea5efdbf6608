package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-oauth-proxy/instrumentation"
	"github.com/giantswarm/mcp-oauth-proxy/internal/util"
	"github.com/giantswarm/mcp-oauth-proxy/providers"
	"github.com/giantswarm/mcp-oauth-proxy/security"
	"github.com/giantswarm/mcp-oauth-proxy/storage"
)

const (
	// ResponseTypeCode is the only response_type the proxy accepts.
	ResponseTypeCode = "code"

	// Grant types the token endpoint understands.
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"

	// TokenTypeBearer is the token_type of every issued access token.
	TokenTypeBearer = "Bearer"
)

// Callback outcome reasons, used as metric labels.
const (
	callbackReasonOK          = "ok"
	callbackReasonInvalid     = "invalid_state"
	callbackReasonExpired     = "transaction_expired"
	callbackReasonTimeout     = "upstream_timeout"
	callbackReasonExchange    = "token_exchange_failed"
	callbackReasonInternal    = "server_error"
	callbackReasonMissingArgs = "missing_parameter"
)

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

// finishSpan records err on span, if any, and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		instrumentation.RecordError(span, err)
		if oe := AsError(err); oe != nil {
			instrumentation.SetSpanAttributes(span,
				attribute.String(instrumentation.AttrError, oe.Code),
				attribute.String(instrumentation.AttrErrorKind, oe.Kind.String()),
			)
		}
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

// Authorize starts an authorization: it stores a new transaction with a fresh
// PKCE pair and returns the upstream authorization URL to redirect to.
// The transaction id doubles as the upstream state.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (_ string, err error) {
	ctx, span := s.startSpan(ctx, "server.Authorize")
	defer func() { finishSpan(span, err) }()

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = s.Config.DefaultScopes
	}
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, strings.Join(scopes, " "))
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, req.ResponseType))

	if req.ResponseType != ResponseTypeCode {
		return "", ErrUnsupportedResponseType(req.ResponseType)
	}
	if err := validateRedirectURI(req.RedirectURI); err != nil {
		return "", err
	}

	pkce, err := security.GeneratePKCE()
	if err != nil {
		return "", ErrServerError("failed to generate PKCE verifier", err)
	}
	id, err := security.GenerateOpaqueID()
	if err != nil {
		return "", ErrServerError("failed to generate transaction id", err)
	}

	now := s.now()
	txn := &storage.Transaction{
		ID:                        id,
		CodeVerifier:              pkce.Verifier,
		CodeChallenge:             pkce.Challenge,
		ClientRedirectURI:         req.RedirectURI,
		ClientID:                  req.ClientID,
		ClientState:               req.State,
		ClientCodeChallenge:       req.CodeChallenge,
		ClientCodeChallengeMethod: req.CodeChallengeMethod,
		Scopes:                    scopes,
		CreatedAt:                 now,
		ExpiresAt:                 now.Add(s.Config.TransactionTTL),
	}
	if err := s.store.SaveTransaction(ctx, txn); err != nil {
		return "", ErrServerError("failed to store transaction", err)
	}

	instrumentation.AddPKCEAttributes(span, pkce.Method)
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, req.ClientID)
	}
	s.Auditor.LogTransactionCreated(id, req.ClientID, scopes)
	s.Logger.Info("Started authorization transaction",
		"transaction", util.Redact(id),
		"client_id", req.ClientID,
		"scopes", scopes)

	return s.provider.AuthorizationURL(id, pkce.Challenge, pkce.Method, scopes), nil
}

// HandleCallback completes the upstream leg: it exchanges the upstream code
// with the transaction's verifier, mints a proxy code bound to the upstream
// tokens and returns the client redirect.
func (s *Server) HandleCallback(ctx context.Context, code, state string) (_ *CallbackResult, err error) {
	ctx, span := s.startSpan(ctx, "server.HandleCallback")
	reason := callbackReasonOK
	defer func() {
		if m := s.metrics(); m != nil {
			m.RecordCallbackProcessed(ctx, err == nil, reason)
		}
		finishSpan(span, err)
	}()

	// state is checked first; neither check touches a transaction
	if state == "" {
		reason = callbackReasonMissingArgs
		return nil, ErrMissingState()
	}
	if code == "" {
		reason = callbackReasonMissingArgs
		return nil, ErrMissingCode()
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrTransactionID, util.Redact(state)))

	txn, err := s.store.GetTransaction(ctx, state)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		reason = callbackReasonInvalid
		s.Auditor.LogCallbackRejected(state, ErrorCodeInvalidState)
		return nil, ErrInvalidState()
	case errors.Is(err, storage.ErrExpired):
		reason = callbackReasonExpired
		if delErr := s.store.DeleteTransaction(ctx, state); delErr != nil {
			s.Logger.Warn("Failed to delete expired transaction",
				"transaction", util.Redact(state), "error", delErr)
		}
		s.Auditor.LogCallbackRejected(state, ErrorCodeTransactionExpired)
		return nil, ErrTransactionExpired()
	case err != nil:
		reason = callbackReasonInternal
		return nil, ErrServerError("failed to load transaction", err)
	}

	token, err := s.exchangeUpstream(ctx, txn, code)
	if err != nil {
		if oe := AsError(err); oe.Code == ErrorCodeUpstreamTimeout {
			reason = callbackReasonTimeout
		} else {
			reason = callbackReasonExchange
		}
		return nil, err
	}

	// The exchange may take a while. Only one callback can win the
	// transaction, and only while it is still live.
	txn, err = s.store.ConsumeTransaction(ctx, state)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		reason = callbackReasonInvalid
		s.Auditor.LogCallbackRejected(state, ErrorCodeInvalidState)
		return nil, ErrInvalidState()
	case errors.Is(err, storage.ErrExpired):
		reason = callbackReasonExpired
		s.Auditor.LogCallbackRejected(state, ErrorCodeTransactionExpired)
		return nil, ErrTransactionExpired()
	case err != nil:
		reason = callbackReasonInternal
		return nil, ErrServerError("failed to consume transaction", err)
	}

	lifetime := s.Config.DefaultTokenLifetime
	if token.ExpiresIn > 0 {
		lifetime = time.Duration(token.ExpiresIn) * time.Second
	}

	proxyCode, err := security.GenerateOpaqueID()
	if err != nil {
		reason = callbackReasonInternal
		return nil, ErrServerError("failed to generate authorization code", err)
	}

	rec := storage.TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    s.now().Add(lifetime),
	}
	if err := s.store.SaveToken(ctx, proxyCode, rec); err != nil {
		reason = callbackReasonInternal
		return nil, ErrServerError("failed to store authorization code", err)
	}

	s.persist(ctx)

	clientState := txn.ClientState
	if clientState == "" {
		if clientState, err = security.GenerateOpaqueID(); err != nil {
			reason = callbackReasonInternal
			return nil, ErrServerError("failed to generate state", err)
		}
	}

	redirectURL, err := buildClientRedirect(txn.ClientRedirectURI, proxyCode, clientState)
	if err != nil {
		reason = callbackReasonInternal
		return nil, ErrServerError("invalid client redirect", err)
	}

	instrumentation.AddOAuthFlowAttributes(span, txn.ClientID, strings.Join(txn.Scopes, " "))
	instrumentation.SetSpanAttributes(span, attribute.Int64(instrumentation.AttrExpiresIn, int64(lifetime/time.Second)))
	s.Auditor.LogProxyCodeIssued(proxyCode, txn.ClientID)
	s.Logger.Info("Issued authorization code",
		"code", util.Redact(proxyCode),
		"client_id", txn.ClientID,
		"expires_in", int64(lifetime/time.Second))

	return &CallbackResult{
		RedirectURL: redirectURL,
		Code:        proxyCode,
		State:       clientState,
	}, nil
}

// exchangeUpstream redeems the upstream code with the transaction's verifier.
// The transaction is left in place on failure.
func (s *Server) exchangeUpstream(ctx context.Context, txn *storage.Transaction, code string) (*oauth2.Token, error) {
	providerName := s.provider.Name()
	ctx, span := s.startSpan(ctx, "provider.ExchangeCode")
	defer span.End()
	instrumentation.AddProviderAttributes(span, providerName, "exchange_code")

	exchangeCtx, cancel := context.WithTimeout(ctx, s.Config.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	token, err := s.provider.ExchangeCode(exchangeCtx, code, txn.CodeVerifier)
	duration := float64(time.Since(start).Milliseconds())

	var status int
	var exErr *providers.ExchangeError
	switch {
	case err == nil:
		status = 200
	case errors.As(err, &exErr):
		status = exErr.StatusCode
	}
	instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrProviderStatus, status))
	if m := s.metrics(); m != nil {
		m.RecordProviderAPICall(ctx, providerName, "exchange_code", status, duration, err)
	}

	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, s.upstreamFailure(txn, err)
	}
	if token == nil || token.AccessToken == "" {
		s.Auditor.LogUpstreamExchangeFailed(txn.ID, status, "empty access token")
		return nil, ErrTokenExchangeFailed("upstream returned no access token", nil, nil)
	}
	instrumentation.SetSpanSuccess(span)
	return token, nil
}

func (s *Server) upstreamFailure(txn *storage.Transaction, err error) error {
	if providers.IsTimeout(err) {
		s.Auditor.LogUpstreamExchangeFailed(txn.ID, 0, ErrorCodeUpstreamTimeout)
		s.Logger.Warn("Upstream token exchange timed out",
			"transaction", util.Redact(txn.ID),
			"timeout", s.Config.UpstreamTimeout)
		return ErrUpstreamTimeout(err)
	}

	var exErr *providers.ExchangeError
	if errors.As(err, &exErr) {
		s.Auditor.LogUpstreamExchangeFailed(txn.ID, exErr.StatusCode, exErr.ErrorCode)
		s.Logger.Warn("Upstream token exchange rejected",
			"transaction", util.Redact(txn.ID),
			"status", exErr.StatusCode,
			"upstream_error", exErr.ErrorCode)
		return ErrTokenExchangeFailed(
			"upstream token endpoint rejected the code",
			map[string]any{"status": exErr.StatusCode, "body": exErr.Body},
			err,
		)
	}

	s.Auditor.LogUpstreamExchangeFailed(txn.ID, 0, "transport")
	s.Logger.Warn("Upstream token exchange failed",
		"transaction", util.Redact(txn.ID),
		"error", err)
	return ErrTokenExchangeFailed(err.Error(), nil, err)
}

// ExchangeAuthorizationCode redeems a proxy code for a proxy access token.
// The record moves atomically from the code key to a fresh access token key,
// so a code works exactly once.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req TokenRequest) (_ *TokenResponse, err error) {
	ctx, span := s.startSpan(ctx, "server.ExchangeAuthorizationCode")
	defer func() {
		if m := s.metrics(); m != nil {
			m.RecordCodeExchange(ctx, err == nil)
		}
		finishSpan(span, err)
	}()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeAuthorizationCode))
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "")

	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	accessToken, err := security.GenerateOpaqueID()
	if err != nil {
		return nil, ErrServerError("failed to generate access token", err)
	}

	rec, err := s.store.RotateToken(ctx, req.Code, accessToken)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrExpired):
		s.Auditor.LogGrantRejected(GrantTypeAuthorizationCode, req.ClientID, "unknown, used or expired code")
		s.Logger.Info("Rejected authorization code",
			"code", util.Redact(req.Code),
			"client_id", req.ClientID)
		return nil, ErrInvalidGrant("authorization code is invalid, expired or already used")
	case err != nil:
		return nil, ErrServerError("failed to issue access token", err)
	}

	s.persist(ctx)

	expiresIn := int64(rec.RemainingLifetime(s.now()) / time.Second)
	if expiresIn <= 0 {
		expiresIn = s.Config.DefaultExpiresIn
	}

	instrumentation.SetSpanAttributes(span, attribute.Int64(instrumentation.AttrExpiresIn, expiresIn))
	s.Auditor.LogTokenIssued(accessToken, req.ClientID, expiresIn)
	s.Logger.Info("Issued access token",
		"code", util.Redact(req.Code),
		"access_token", util.Redact(accessToken),
		"client_id", req.ClientID,
		"redirect_uri", req.RedirectURI,
		"code_verifier_present", req.CodeVerifier != "",
		"expires_in", expiresIn)

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   expiresIn,
	}, nil
}

// RefreshAccessToken rejects every refresh_token grant. The proxy never hands
// out refresh tokens.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	_, span := s.startSpan(ctx, "server.RefreshAccessToken")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeRefreshToken))

	if m := s.metrics(); m != nil {
		m.RecordRefreshRejected(ctx)
	}
	s.Auditor.LogGrantRejected(GrantTypeRefreshToken, "", "refresh not supported")

	err := ErrInvalidGrant("refresh tokens are not supported")
	finishSpan(span, err)
	return nil, err
}

// ValidateToken resolves a proxy access token to its upstream credentials.
// Unknown and expired tokens yield ErrNotAuthenticated; expired ones are removed.
func (s *Server) ValidateToken(ctx context.Context, accessToken string) (_ *TokenInfo, err error) {
	ctx, span := s.startSpan(ctx, "server.ValidateToken")
	result := "valid"
	defer func() {
		if m := s.metrics(); m != nil {
			m.RecordTokenValidation(ctx, result)
		}
		finishSpan(span, err)
	}()

	if accessToken == "" {
		result = "invalid"
		return nil, ErrNotAuthenticated
	}

	rec, err := s.store.GetToken(ctx, accessToken)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		result = "invalid"
		s.Auditor.LogTokenRejected(accessToken, "unknown")
		return nil, ErrNotAuthenticated
	case errors.Is(err, storage.ErrExpired):
		result = "expired"
		if delErr := s.store.DeleteToken(ctx, accessToken); delErr != nil {
			s.Logger.Warn("Failed to delete expired token",
				"access_token", util.Redact(accessToken), "error", delErr)
		}
		s.persist(ctx)
		s.Auditor.LogTokenRejected(accessToken, "expired")
		return nil, ErrNotAuthenticated
	case err != nil:
		result = "error"
		return nil, ErrServerError("failed to load token", err)
	}

	return &TokenInfo{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresIn:    int64(rec.RemainingLifetime(s.now()) / time.Second),
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// buildClientRedirect appends code and state to the client redirect URI,
// keeping any query parameters it already carries.
func buildClientRedirect(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
