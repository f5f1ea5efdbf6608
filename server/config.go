package server

import (
	"log/slog"
	"net/url"
	"time"
)

// Default values applied by applySecureDefaults.
const (
	DefaultTransactionTTL  = 10 * time.Minute
	DefaultTokenLifetime   = 3600 * time.Second
	DefaultExpiresIn       = int64(3600)
	DefaultSweepInterval   = 60 * time.Second
	DefaultUpstreamTimeout = 30 * time.Second
)

// Endpoint paths the proxy serves, relative to Issuer.
const (
	AuthorizationEndpointPath = "/oauth/authorize"
	CallbackEndpointPath      = "/oauth/callback"
	TokenEndpointPath         = "/oauth/token"
	RegistrationEndpointPath  = "/oauth/register"
	MetadataEndpointPath      = "/.well-known/oauth-authorization-server"
)

// Config holds the engine configuration.
type Config struct {
	// Issuer is the proxy's public base URL, e.g. "https://proxy.example.com".
	Issuer string

	// TransactionTTL bounds the authorize→callback round trip (default: 10m)
	TransactionTTL time.Duration

	// DefaultTokenLifetime applies when upstream omits expires_in (default: 3600s)
	DefaultTokenLifetime time.Duration

	// DefaultExpiresIn is reported by the token endpoint when the remaining
	// lifetime rounds down to zero (default: 3600)
	DefaultExpiresIn int64

	// SweepInterval is how often expired entries are removed (default: 60s)
	SweepInterval time.Duration

	// UpstreamTimeout bounds the upstream code exchange (default: 30s)
	UpstreamTimeout time.Duration

	// DefaultScopes are requested upstream when the client asks for none.
	DefaultScopes []string

	// ScopesSupported is advertised in the metadata document.
	// Falls back to DefaultScopes.
	ScopesSupported []string

	// Now is the clock used for minting expiries. Tests inject a fake one.
	Now func() time.Time
}

// applySecureDefaults fills unset fields and warns about risky settings.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)

	if config.Now == nil {
		config.Now = time.Now
	}
	if len(config.ScopesSupported) == 0 {
		config.ScopesSupported = config.DefaultScopes
	}

	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration.
func applyTimeDefaults(config *Config) {
	if config.TransactionTTL <= 0 {
		config.TransactionTTL = DefaultTransactionTTL
	}
	if config.DefaultTokenLifetime <= 0 {
		config.DefaultTokenLifetime = DefaultTokenLifetime
	}
	if config.DefaultExpiresIn <= 0 {
		config.DefaultExpiresIn = DefaultExpiresIn
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}
}

// logSecurityWarnings logs warnings for insecure configuration settings.
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	u, err := url.Parse(config.Issuer)
	if err != nil {
		return
	}
	if u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
		logger.Warn("SECURITY WARNING: issuer is not served over HTTPS",
			"issuer", config.Issuer,
			"risk", "Proxy codes and access tokens exposed to network interception",
			"recommendation", "Terminate TLS in front of the proxy and use an https issuer")
	}
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
