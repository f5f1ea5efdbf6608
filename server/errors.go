package server

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error by where it originated.
type Kind int

const (
	// KindProtocol is a malformed or unsupported client request.
	KindProtocol Kind = iota
	// KindState is a missing, unknown, consumed or expired transaction or key.
	KindState
	// KindUpstream is a failure talking to the upstream authorization server.
	KindUpstream
	// KindPersistence is a snapshot load or save failure. Never shown to clients.
	KindPersistence
	// KindInternal is anything else, entropy failures included.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindState:
		return "state"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// OAuth error codes returned to clients.
const (
	// Standard OAuth 2.0 error codes (RFC 6749)
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeServerError             = "server_error"

	// RFC 6750
	ErrorCodeInvalidToken = "invalid_token"

	// Callback errors
	ErrorCodeMissingState        = "missing_state"
	ErrorCodeMissingCode         = "missing_code"
	ErrorCodeInvalidState        = "invalid_state"
	ErrorCodeTransactionExpired  = "transaction_expired"
	ErrorCodeUpstreamTimeout     = "upstream_timeout"
	ErrorCodeTokenExchangeFailed = "token_exchange_failed"
	ErrorCodeUpstreamError       = "upstream_error"

	// ErrorCodePersistenceFailed is only ever logged and counted.
	ErrorCodePersistenceFailed = "persistence_failed"
)

// Error is the error type returned by every Server operation that a client
// can observe. Use errors.As to recover it from a wrapped chain.
type Error struct {
	Kind        Kind
	Code        string
	Description string
	// Status is the HTTP status the error should be rendered with.
	Status int
	// Details carries structured context, e.g. the upstream status and body.
	Details map[string]any
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNotAuthenticated is returned by ValidateToken for unknown and expired keys.
var ErrNotAuthenticated = &Error{
	Kind:        KindState,
	Code:        ErrorCodeInvalidToken,
	Description: "access token is invalid or expired",
	Status:      http.StatusUnauthorized,
}

// AsError returns err as an *Error. Anything that is not already one is
// reported as a server_error wrapping err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ErrServerError("internal error", err)
}

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(description string) *Error {
	return &Error{Kind: KindProtocol, Code: ErrorCodeInvalidRequest, Description: description, Status: http.StatusBadRequest}
}

// ErrUnsupportedResponseType creates an unsupported_response_type error
func ErrUnsupportedResponseType(responseType string) *Error {
	return &Error{
		Kind:        KindProtocol,
		Code:        ErrorCodeUnsupportedResponseType,
		Description: fmt.Sprintf("response_type %q is not supported", responseType),
		Status:      http.StatusBadRequest,
	}
}

// ErrUnsupportedGrantType creates an unsupported_grant_type error
func ErrUnsupportedGrantType(grantType string) *Error {
	return &Error{
		Kind:        KindProtocol,
		Code:        ErrorCodeUnsupportedGrantType,
		Description: fmt.Sprintf("grant_type %q is not supported", grantType),
		Status:      http.StatusBadRequest,
	}
}

// ErrInvalidGrant creates an invalid_grant error
func ErrInvalidGrant(description string) *Error {
	return &Error{Kind: KindState, Code: ErrorCodeInvalidGrant, Description: description, Status: http.StatusBadRequest}
}

// ErrMissingState creates a missing_state error
func ErrMissingState() *Error {
	return &Error{Kind: KindProtocol, Code: ErrorCodeMissingState, Description: "state parameter is required", Status: http.StatusBadRequest}
}

// ErrMissingCode creates a missing_code error
func ErrMissingCode() *Error {
	return &Error{Kind: KindProtocol, Code: ErrorCodeMissingCode, Description: "code parameter is required", Status: http.StatusBadRequest}
}

// ErrInvalidState creates an invalid_state error
func ErrInvalidState() *Error {
	return &Error{Kind: KindState, Code: ErrorCodeInvalidState, Description: "unknown or already used state", Status: http.StatusBadRequest}
}

// ErrTransactionExpired creates a transaction_expired error
func ErrTransactionExpired() *Error {
	return &Error{Kind: KindState, Code: ErrorCodeTransactionExpired, Description: "authorization transaction has expired", Status: http.StatusBadRequest}
}

// ErrUpstreamTimeout creates an upstream_timeout error
func ErrUpstreamTimeout(cause error) *Error {
	return &Error{
		Kind:        KindUpstream,
		Code:        ErrorCodeUpstreamTimeout,
		Description: "upstream token endpoint did not respond in time",
		Status:      http.StatusGatewayTimeout,
		Err:         cause,
	}
}

// ErrTokenExchangeFailed creates a token_exchange_failed error. Upstream status
// and body, when known, are carried in Details.
func ErrTokenExchangeFailed(description string, details map[string]any, cause error) *Error {
	return &Error{
		Kind:        KindUpstream,
		Code:        ErrorCodeTokenExchangeFailed,
		Description: description,
		Status:      http.StatusBadRequest,
		Details:     details,
		Err:         cause,
	}
}

// ErrUpstreamError reports an error the upstream returned on the callback redirect.
func ErrUpstreamError(upstreamCode, upstreamDescription string) *Error {
	desc := "upstream authorization failed"
	if upstreamCode != "" {
		desc += ": " + upstreamCode
	}
	details := map[string]any{"upstream_error": upstreamCode}
	if upstreamDescription != "" {
		details["upstream_error_description"] = upstreamDescription
	}
	return &Error{
		Kind:        KindUpstream,
		Code:        ErrorCodeUpstreamError,
		Description: desc,
		Status:      http.StatusBadRequest,
		Details:     details,
	}
}

// ErrPersistence wraps a snapshot failure.
func ErrPersistence(op string, cause error) *Error {
	return &Error{
		Kind:        KindPersistence,
		Code:        ErrorCodePersistenceFailed,
		Description: op + " failed",
		Status:      http.StatusInternalServerError,
		Err:         cause,
	}
}

// ErrServerError creates a server_error
func ErrServerError(description string, cause error) *Error {
	return &Error{
		Kind:        KindInternal,
		Code:        ErrorCodeServerError,
		Description: description,
		Status:      http.StatusInternalServerError,
		Err:         cause,
	}
}
