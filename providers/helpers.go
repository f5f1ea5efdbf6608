package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
)

// MaxErrorBodyLength bounds the upstream response body kept in an ExchangeError.
const MaxErrorBodyLength = 1024

// OAuth2ConfigExchanger is an interface for the Exchange method of oauth2.Config.
// This allows us to create shared helper functions that work with any provider's config.
type OAuth2ConfigExchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// ExchangeCodeWithPKCE is a shared helper for exchanging authorization codes with PKCE.
// It handles the common pattern of:
// 1. Adding the PKCE verifier
// 2. Setting up the HTTP client context
// 3. Performing the exchange
// 4. Converting upstream rejections into *ExchangeError
//
// Parameters:
//   - ctx: context for the request (should have timeout set by caller)
//   - config: OAuth2 config that implements Exchange method
//   - httpClient: custom HTTP client to use for the exchange
//   - code: the authorization code to exchange
//   - verifier: PKCE code verifier
func ExchangeCodeWithPKCE(ctx context.Context, config OAuth2ConfigExchanger, httpClient *http.Client, code, verifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	token, err := config.Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, exchangeErrorFrom(re)
		}
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return token, nil
}

func exchangeErrorFrom(re *oauth2.RetrieveError) *ExchangeError {
	e := &ExchangeError{
		Body:             string(re.Body),
		ErrorCode:        re.ErrorCode,
		ErrorDescription: re.ErrorDescription,
	}
	if re.Response != nil {
		e.StatusCode = re.Response.StatusCode
	}
	if len(e.Body) > MaxErrorBodyLength {
		e.Body = e.Body[:MaxErrorBodyLength]
	}
	return e
}

// IsTimeout reports whether err was caused by a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
