package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{name: "code only", err: &Error{Code: "invalid_state"}, want: "invalid_state"},
		{name: "with description", err: ErrInvalidRequest("code is required"), want: "invalid_request: code is required"},
		{name: "with cause", err: ErrServerError("failed", cause), want: "server_error: failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_UnwrapAndAs(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("callback: %w", ErrUpstreamTimeout(cause))

	var oe *Error
	if !errors.As(err, &oe) {
		t.Fatal("errors.As should find *Error")
	}
	if oe.Code != ErrorCodeUpstreamTimeout || oe.Kind != KindUpstream {
		t.Errorf("got %s/%s", oe.Code, oe.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantCode   string
		wantKind   Kind
		wantStatus int
	}{
		{"unsupported response type", ErrUnsupportedResponseType("token"), ErrorCodeUnsupportedResponseType, KindProtocol, http.StatusBadRequest},
		{"unsupported grant type", ErrUnsupportedGrantType("password"), ErrorCodeUnsupportedGrantType, KindProtocol, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant("used"), ErrorCodeInvalidGrant, KindState, http.StatusBadRequest},
		{"missing state", ErrMissingState(), ErrorCodeMissingState, KindProtocol, http.StatusBadRequest},
		{"missing code", ErrMissingCode(), ErrorCodeMissingCode, KindProtocol, http.StatusBadRequest},
		{"invalid state", ErrInvalidState(), ErrorCodeInvalidState, KindState, http.StatusBadRequest},
		{"transaction expired", ErrTransactionExpired(), ErrorCodeTransactionExpired, KindState, http.StatusBadRequest},
		{"upstream timeout", ErrUpstreamTimeout(nil), ErrorCodeUpstreamTimeout, KindUpstream, http.StatusGatewayTimeout},
		{"token exchange failed", ErrTokenExchangeFailed("rejected", nil, nil), ErrorCodeTokenExchangeFailed, KindUpstream, http.StatusBadRequest},
		{"upstream error", ErrUpstreamError("access_denied", "user said no"), ErrorCodeUpstreamError, KindUpstream, http.StatusBadRequest},
		{"persistence", ErrPersistence("save", nil), ErrorCodePersistenceFailed, KindPersistence, http.StatusInternalServerError},
		{"server error", ErrServerError("x", nil), ErrorCodeServerError, KindInternal, http.StatusInternalServerError},
		{"not authenticated", ErrNotAuthenticated, ErrorCodeInvalidToken, KindState, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", tt.err.Kind, tt.wantKind)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
		})
	}
}

func TestErrUpstreamError_Details(t *testing.T) {
	err := ErrUpstreamError("access_denied", "user said no")
	if err.Details["upstream_error"] != "access_denied" {
		t.Errorf("upstream_error = %v", err.Details["upstream_error"])
	}
	if err.Details["upstream_error_description"] != "user said no" {
		t.Errorf("upstream_error_description = %v", err.Details["upstream_error_description"])
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}

	plain := errors.New("plain")
	got := AsError(plain)
	if got.Code != ErrorCodeServerError || !errors.Is(got, plain) {
		t.Errorf("AsError(plain) = %v", got)
	}

	typed := ErrInvalidState()
	if AsError(fmt.Errorf("wrapped: %w", typed)) != typed {
		t.Error("AsError should return the wrapped *Error")
	}
}

func TestKind_String(t *testing.T) {
	if KindPersistence.String() != "persistence" {
		t.Errorf("KindPersistence.String() = %q", KindPersistence.String())
	}
	if Kind(42).String() != "kind(42)" {
		t.Errorf("Kind(42).String() = %q", Kind(42).String())
	}
}
