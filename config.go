package oauth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/giantswarm/mcp-oauth-proxy/instrumentation"
	"github.com/giantswarm/mcp-oauth-proxy/providers/generic"
	"github.com/giantswarm/mcp-oauth-proxy/server"
)

// Encryption key sources for the token snapshot
const (
	KeySourceNone    = "none"
	KeySourceConfig  = "config"
	KeySourceKeyring = "keyring"
)

// Log formats understood by the observability setup
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
	LogFormatOTel = "otel"
)

// Config is the complete proxy configuration. The koanf tags are the keys
// used in the TOML file and, upper-cased with a prefix, in the environment.
type Config struct {
	// ListenAddr is the address the HTTP server binds to
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`

	// Issuer is the externally visible base URL of the proxy
	Issuer string `koanf:"issuer" validate:"required,http_url"`

	Upstream  UpstreamConfig  `koanf:"upstream"`
	Storage   StorageConfig   `koanf:"storage"`
	Sweeper   SweeperConfig   `koanf:"sweeper"`
	Security  SecurityConfig  `koanf:"security"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

// UpstreamConfig identifies the upstream authorization server and the
// proxy's public client registration there.
type UpstreamConfig struct {
	AuthorizationURL string `koanf:"authorization_url" validate:"required,http_url"`
	TokenURL         string `koanf:"token_url" validate:"required,http_url"`
	ClientID         string `koanf:"client_id" validate:"required"`

	// CallbackURL must be registered upstream and route to /oauth/callback
	CallbackURL string `koanf:"callback_url" validate:"required,http_url"`

	// Scopes requested when the client asks for none
	Scopes []string `koanf:"scopes"`

	// Timeout bounds every authorization_code exchange
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// StorageConfig controls the token snapshot file
type StorageConfig struct {
	// Path of the snapshot file. Empty keeps tokens in memory only.
	Path string `koanf:"path"`

	// EncryptionKey is a base64 AES-256 key or a passphrase, used when
	// EncryptionKeySource is "config".
	EncryptionKey string `koanf:"encryption_key" validate:"required_if=EncryptionKeySource config"`

	EncryptionKeySource string `koanf:"encryption_key_source" validate:"oneof=none config keyring"`
}

// SweeperConfig controls the expiry sweeper
type SweeperConfig struct {
	Interval time.Duration `koanf:"interval" validate:"gte=0"`
}

// SecurityConfig holds the HTTP-layer protections
type SecurityConfig struct {
	// RegistrationRate is requests per second per IP on /oauth/register.
	// Zero disables the limiter.
	RegistrationRate  float64 `koanf:"registration_rate" validate:"gte=0"`
	RegistrationBurst int     `koanf:"registration_burst" validate:"gte=0"`

	// CallbackRate is requests per second per IP on /oauth/callback.
	// Zero disables the limiter.
	CallbackRate  float64 `koanf:"callback_rate" validate:"gte=0"`
	CallbackBurst int     `koanf:"callback_burst" validate:"gte=0"`

	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	// Only enable behind a reverse proxy you control.
	TrustProxy        bool `koanf:"trust_proxy"`
	TrustedProxyCount int  `koanf:"trusted_proxy_count" validate:"gte=0"`

	// Audit enables security audit events
	Audit bool `koanf:"audit"`
}

// TelemetryConfig selects the metric and trace exporters
type TelemetryConfig struct {
	MetricsExporter string `koanf:"metrics_exporter" validate:"oneof=none prometheus"`
	TracesExporter  string `koanf:"traces_exporter" validate:"oneof=none otlp"`
	OTLPEndpoint    string `koanf:"otlp_endpoint" validate:"omitempty,url"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
	ServiceName     string `koanf:"service_name"`
	LogClientIPs    bool   `koanf:"log_client_ips"`
}

// LogConfig selects the process log handler
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json otel"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
// The upstream block has no sensible default and must be provided.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8080",
		Issuer:     "http://localhost:8080",
		Upstream: UpstreamConfig{
			CallbackURL: "http://localhost:8080" + server.CallbackEndpointPath,
			Timeout:     server.DefaultUpstreamTimeout,
		},
		Storage: StorageConfig{
			EncryptionKeySource: KeySourceNone,
		},
		Sweeper: SweeperConfig{
			Interval: server.DefaultSweepInterval,
		},
		Security: SecurityConfig{
			RegistrationRate:  0.2,
			RegistrationBurst: 5,
			CallbackRate:      2,
			CallbackBurst:     10,
			TrustedProxyCount: 1,
			Audit:             true,
		},
		Telemetry: TelemetryConfig{
			MetricsExporter: instrumentation.ExporterPrometheus,
			TracesExporter:  instrumentation.ExporterNone,
			ServiceName:     instrumentation.DefaultServiceName,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// Validate checks the configuration and reports every violation at once,
// named by its configuration key.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, fmt.Errorf("%s: %s", configKey(fe.Namespace()), describeViolation(fe)))
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// configKey drops the root struct name from a validator namespace,
// e.g. "Config.upstream.token_url" becomes "upstream.token_url".
func configKey(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describeViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "http_url", "url":
		return fmt.Sprintf("must be an absolute URL, got %q", fe.Value())
	case "hostname_port":
		return fmt.Sprintf("must be host:port, got %q", fe.Value())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// ServerConfig converts c into the engine configuration.
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Issuer:          c.Issuer,
		SweepInterval:   c.Sweeper.Interval,
		UpstreamTimeout: c.Upstream.Timeout,
		DefaultScopes:   c.Upstream.Scopes,
	}
}

// ProviderConfig converts c into the upstream provider configuration.
func (c *Config) ProviderConfig() *generic.Config {
	return &generic.Config{
		AuthorizationURL: c.Upstream.AuthorizationURL,
		TokenURL:         c.Upstream.TokenURL,
		ClientID:         c.Upstream.ClientID,
		RedirectURL:      c.Upstream.CallbackURL,
		Scopes:           c.Upstream.Scopes,
	}
}

// InstrumentationConfig converts c into the telemetry configuration.
// Instrumentation is enabled as soon as one exporter is.
func (c *Config) InstrumentationConfig(version string) instrumentation.Config {
	t := c.Telemetry
	return instrumentation.Config{
		ServiceName:     t.ServiceName,
		ServiceVersion:  version,
		Enabled:         t.MetricsExporter != instrumentation.ExporterNone || t.TracesExporter != instrumentation.ExporterNone,
		MetricsExporter: t.MetricsExporter,
		TracesExporter:  t.TracesExporter,
		OTLPEndpoint:    t.OTLPEndpoint,
		OTLPInsecure:    t.OTLPInsecure,
		LogClientIPs:    t.LogClientIPs,
	}
}
