package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-oauth-proxy/security"
	"github.com/giantswarm/mcp-oauth-proxy/server"
)

// OAuth error codes as constants. The engine owns the codes; they are
// repeated here so HTTP callers need not import the server package.
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError             = server.ErrorCodeServerError
	ErrorCodeMissingState            = server.ErrorCodeMissingState
	ErrorCodeMissingCode             = server.ErrorCodeMissingCode
	ErrorCodeInvalidState            = server.ErrorCodeInvalidState
	ErrorCodeTransactionExpired      = server.ErrorCodeTransactionExpired
	ErrorCodeUpstreamTimeout         = server.ErrorCodeUpstreamTimeout
	ErrorCodeTokenExchangeFailed     = server.ErrorCodeTokenExchangeFailed
	ErrorCodeUpstreamError           = server.ErrorCodeUpstreamError

	// ErrorCodeRateLimitExceeded is produced by the HTTP layer only
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// errorResponse is the JSON body of every error response
type errorResponse struct {
	Error            string         `json:"error"`
	ErrorDescription string         `json:"error_description,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// errRateLimited is returned when a per-IP limiter rejects a request
func errRateLimited() *server.Error {
	return &server.Error{
		Kind:        server.KindProtocol,
		Code:        ErrorCodeRateLimitExceeded,
		Description: "Rate limit exceeded. Please try again later.",
		Status:      http.StatusTooManyRequests,
	}
}

// writeError renders err as {error, error_description, details?}. Internal
// causes are logged, never sent.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	oe := server.AsError(err)

	switch oe.Kind {
	case server.KindInternal, server.KindPersistence:
		h.logger.Error("Request failed", "code", oe.Code, "error", err)
	default:
		h.logger.Debug("Request rejected", "code", oe.Code, "error", err)
	}

	status := oe.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(h.server.Config.Issuer, oe.Code, oe.Description))
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:            oe.Code,
		ErrorDescription: oe.Description,
		Details:          oe.Details,
	})
}

// formatWWWAuthenticate builds an RFC 6750 Section 3 challenge.
func formatWWWAuthenticate(realm, errCode, errorDesc string) string {
	params := []string{fmt.Sprintf(`realm="%s"`, quoteParam(realm))}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, quoteParam(errCode)))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quoteParam(errorDesc)))
	}
	return server.TokenTypeBearer + " " + strings.Join(params, ", ")
}

// quoteParam escapes a quoted-string value. Backslashes go first.
func quoteParam(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
