package server

import (
	"net/url"
	"slices"
	"strings"
)

// DangerousSchemes lists URI schemes that must never be used as a redirect target.
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// validateRedirectURI checks that the client redirect can carry the proxy
// code back. Custom schemes are allowed for native clients.
func validateRedirectURI(redirectURI string) error {
	if redirectURI == "" {
		return ErrInvalidRequest("redirect_uri is required")
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return ErrInvalidRequest("redirect_uri is not a valid URI")
	}
	if u.Scheme == "" {
		return ErrInvalidRequest("redirect_uri must be an absolute URI")
	}
	if slices.Contains(DangerousSchemes, strings.ToLower(u.Scheme)) {
		return ErrInvalidRequest("redirect_uri scheme is not allowed")
	}
	// RFC 6749 Section 3.1.2
	if u.Fragment != "" {
		return ErrInvalidRequest("redirect_uri must not contain a fragment")
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return ErrInvalidRequest("redirect_uri must include a host")
	}
	return nil
}
