package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-oauth-proxy/instrumentation"
	"github.com/giantswarm/mcp-oauth-proxy/internal/util"
	"github.com/giantswarm/mcp-oauth-proxy/security"
	"github.com/giantswarm/mcp-oauth-proxy/server"
)

const (
	// maxFormBytes bounds token and callback form bodies
	maxFormBytes = 64 << 10

	// maxRegistrationBytes bounds registration JSON bodies
	maxRegistrationBytes = 16 << 10
)

// Endpoint labels used in metrics and spans
const (
	endpointAuthorize = "authorize"
	endpointCallback  = "callback"
	endpointToken     = "token"
	endpointRegister  = "register"
	endpointMetadata  = "metadata"
)

// Handler is the HTTP surface of the proxy. It translates requests into
// engine calls and engine errors into OAuth error responses.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer

	trustProxy        bool
	trustedProxyCount int

	registrationLimiter *security.RateLimiter
	callbackLimiter     *security.RateLimiter
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithTrustProxy makes client IP extraction honour forwarding headers set
// by trustedProxyCount proxies in front of the server.
func WithTrustProxy(trust bool, trustedProxyCount int) HandlerOption {
	return func(h *Handler) {
		h.trustProxy = trust
		h.trustedProxyCount = trustedProxyCount
	}
}

// WithRegistrationRateLimiter limits /oauth/register per client IP
func WithRegistrationRateLimiter(rl *security.RateLimiter) HandlerOption {
	return func(h *Handler) { h.registrationLimiter = rl }
}

// WithCallbackRateLimiter limits /oauth/callback per client IP
func WithCallbackRateLimiter(rl *security.RateLimiter) HandlerOption {
	return func(h *Handler) { h.callbackLimiter = rl }
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
		tracer: tracenoop.NewTracerProvider().Tracer("http"),
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts every proxy endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+server.AuthorizationEndpointPath, h.ServeAuthorization)
	mux.HandleFunc("GET "+server.CallbackEndpointPath, h.ServeCallback)
	mux.HandleFunc("POST "+server.CallbackEndpointPath, h.ServeCallback)
	mux.HandleFunc("POST "+server.TokenEndpointPath, h.ServeToken)
	mux.HandleFunc("POST "+server.RegistrationEndpointPath, h.ServeClientRegistration)
	mux.HandleFunc("GET "+server.MetadataEndpointPath, h.ServeAuthorizationServerMetadata)
}

// ServeAuthorization starts a flow and redirects the browser upstream.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	w, r, done := h.instrument(w, r, endpointAuthorize)
	defer done()

	q := r.URL.Query()
	req := server.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              strings.Fields(q.Get("scope")),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	authURL, err := h.server.Authorize(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback handles the upstream redirect back to the proxy and sends
// the browser on to the client with a proxy code.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	w, r, done := h.instrument(w, r, endpointCallback)
	defer done()

	clientIP := h.clientIP(r)
	if h.rateLimited(w, r, h.callbackLimiter, clientIP, endpointCallback) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrInvalidRequest("failed to parse callback parameters"))
		return
	}

	state := r.Form.Get("state")

	// The upstream refused, e.g. the user denied consent. The transaction
	// is left to expire.
	if upstreamErr := r.Form.Get("error"); upstreamErr != "" {
		desc := r.Form.Get("error_description")
		h.logger.Warn("Upstream returned error",
			"error", upstreamErr, "description", desc, "transaction", util.Redact(state))
		h.server.Auditor.LogCallbackRejected(state, ErrorCodeUpstreamError)
		if inst := h.server.Instrumentation; inst != nil {
			inst.Metrics().RecordCallbackProcessed(r.Context(), false, ErrorCodeUpstreamError)
		}
		h.writeError(w, server.ErrUpstreamError(upstreamErr, desc))
		return
	}

	result, err := h.server.HandleCallback(r.Context(), r.Form.Get("code"), state)
	if err != nil {
		h.writeError(w, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	w, r, done := h.instrument(w, r, endpointToken)
	defer done()

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrInvalidRequest("failed to parse request"))
		return
	}

	grantType := r.PostForm.Get("grant_type")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String(instrumentation.AttrGrantType, grantType))

	var (
		resp *server.TokenResponse
		err  error
	)
	switch grantType {
	case server.GrantTypeAuthorizationCode:
		resp, err = h.server.ExchangeAuthorizationCode(r.Context(), server.TokenRequest{
			Code:         r.PostForm.Get("code"),
			ClientID:     r.PostForm.Get("client_id"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
		})
	case server.GrantTypeRefreshToken:
		resp, err = h.server.RefreshAccessToken(r.Context(), r.PostForm.Get("refresh_token"))
	case "":
		err = server.ErrInvalidRequest("grant_type is required")
	default:
		err = server.ErrUnsupportedGrantType(grantType)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ServeClientRegistration handles RFC 7591 dynamic client registration.
// Nothing is stored; the response only hands out a fresh client id.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	w, r, done := h.instrument(w, r, endpointRegister)
	defer done()

	clientIP := h.clientIP(r)
	if h.rateLimited(w, r, h.registrationLimiter, clientIP, endpointRegister) {
		return
	}

	var req server.RegistrationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, server.ErrInvalidRequest("registration body must be a JSON object"))
		return
	}

	resp, err := h.server.RegisterClient(r.Context(), req, clientIP)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	w, _, done := h.instrument(w, r, endpointMetadata)
	defer done()

	h.writeJSON(w, http.StatusOK, h.server.Metadata())
}

// ValidateToken is middleware that admits requests carrying a live proxy
// access token and exposes the upstream credentials via TokenInfoFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken, ok := extractBearerToken(r)
		if !ok {
			h.writeError(w, &server.Error{
				Kind:        server.KindProtocol,
				Code:        ErrorCodeInvalidToken,
				Description: "missing or malformed Authorization header",
				Status:      http.StatusUnauthorized,
			})
			return
		}

		info, err := h.server.ValidateToken(r.Context(), accessToken)
		if err != nil {
			h.logger.Debug("Token validation failed",
				"ip", h.clientIP(r), "token", util.Redact(accessToken), "error", err)
			h.server.Auditor.LogTokenRejected(accessToken, server.AsError(err).Code)
			h.writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithTokenInfo(r.Context(), info)))
	})
}

// extractBearerToken returns the token of an "Authorization: Bearer" header
func extractBearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, server.TokenTypeBearer) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.trustProxy, h.trustedProxyCount)
}

// rateLimited reports whether rl rejected the request, in which case the
// 429 response has already been written.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, rl *security.RateLimiter, clientIP, endpoint string) bool {
	if rl.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if inst := h.server.Instrumentation; inst != nil {
		inst.Metrics().RecordRateLimitExceeded(r.Context(), endpoint)
	}
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
	h.writeError(w, errRateLimited())
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to write response", "error", err)
	}
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// instrument opens the endpoint span and returns the wrapped writer and
// request plus a func recording the outcome, to be deferred.
func (h *Handler) instrument(w http.ResponseWriter, r *http.Request, endpoint string) (http.ResponseWriter, *http.Request, func()) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http."+endpoint)
	rec := &statusRecorder{ResponseWriter: w}

	if inst := h.server.Instrumentation; inst != nil && inst.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, h.clientIP(r))
	}

	return rec, r.WithContext(ctx), func() {
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
		if status >= http.StatusBadRequest {
			instrumentation.SetSpanError(span, http.StatusText(status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		span.End()
		h.recordHTTPMetrics(ctx, endpoint, r.Method, status, startTime)
	}
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

type contextKey string

const tokenInfoKey contextKey = "token_info"

// TokenInfoFromContext returns the TokenInfo stored by the ValidateToken
// middleware.
func TokenInfoFromContext(ctx context.Context) (*server.TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey).(*server.TokenInfo)
	return info, ok
}

// ContextWithTokenInfo returns a copy of ctx carrying info.
func ContextWithTokenInfo(ctx context.Context, info *server.TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKey, info)
}
