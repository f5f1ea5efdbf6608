package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/zalando/go-keyring"

	"github.com/giantswarm/mcp-oauth-proxy/instrumentation"
	"github.com/giantswarm/mcp-oauth-proxy/providers"
	"github.com/giantswarm/mcp-oauth-proxy/providers/generic"
	"github.com/giantswarm/mcp-oauth-proxy/security"
	"github.com/giantswarm/mcp-oauth-proxy/server"
	"github.com/giantswarm/mcp-oauth-proxy/storage"
	"github.com/giantswarm/mcp-oauth-proxy/storage/file"
	"github.com/giantswarm/mcp-oauth-proxy/storage/memory"
)

// Keyring coordinates of the snapshot encryption key
const (
	KeyringService = "mcp-oauth-proxy"
	KeyringUser    = "storage-encryption-key"
)

// keyDerivationSalt is mixed into passphrase-derived keys
var keyDerivationSalt = []byte("mcp-oauth-proxy/storage")

// MetricsEndpointPath serves the Prometheus exposition format
const MetricsEndpointPath = "/metrics"

// Proxy is a fully assembled proxy: engine, HTTP handler and telemetry.
type Proxy struct {
	Server          *server.Server
	Handler         *Handler
	Instrumentation *instrumentation.Instrumentation

	store    *memory.Store
	limiters []*security.RateLimiter
	logger   *slog.Logger
}

// NewProxy validates cfg and assembles a Proxy talking to the upstream
// described by cfg. Call Start before serving and Shutdown when done.
func NewProxy(ctx context.Context, cfg *Config, version string, logger *slog.Logger) (*Proxy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := generic.NewProvider(cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream provider: %w", err)
	}

	return NewProxyWithProvider(ctx, cfg, provider, version, logger)
}

// NewProxyWithProvider is NewProxy with the upstream provider supplied by
// the caller. cfg is not validated again.
func NewProxyWithProvider(ctx context.Context, cfg *Config, provider providers.Provider, version string, logger *slog.Logger) (*Proxy, error) {
	if logger == nil {
		logger = slog.Default()
	}

	inst, err := instrumentation.New(ctx, cfg.InstrumentationConfig(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	store := memory.New(memory.WithLogger(logger))
	store.SetInstrumentation(inst)

	var persister storage.Persister
	if cfg.Storage.Path != "" {
		key, err := ResolveEncryptionKey(cfg.Storage)
		if err != nil {
			_ = inst.Shutdown(ctx)
			return nil, err
		}
		encryptor, err := security.NewEncryptor(key)
		if err != nil {
			_ = inst.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		persister = file.New(cfg.Storage.Path, encryptor, logger)
		logger.Info("Token snapshot configured",
			"path", cfg.Storage.Path, "encrypted", encryptor.IsEnabled())
	}

	srv, err := server.New(provider, store, persister, cfg.ServerConfig(), logger)
	if err != nil {
		_ = inst.Shutdown(ctx)
		return nil, err
	}
	srv.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, cfg.Security.Audit))

	p := &Proxy{
		Server:          srv,
		Instrumentation: inst,
		store:           store,
		logger:          logger,
	}

	opts := []HandlerOption{
		WithTrustProxy(cfg.Security.TrustProxy, cfg.Security.TrustedProxyCount),
	}
	if cfg.Security.RegistrationRate > 0 {
		rl := security.NewRateLimiter(cfg.Security.RegistrationRate, cfg.Security.RegistrationBurst, logger)
		p.limiters = append(p.limiters, rl)
		opts = append(opts, WithRegistrationRateLimiter(rl))
	}
	if cfg.Security.CallbackRate > 0 {
		rl := security.NewRateLimiter(cfg.Security.CallbackRate, cfg.Security.CallbackBurst, logger)
		p.limiters = append(p.limiters, rl)
		opts = append(opts, WithCallbackRateLimiter(rl))
	}
	p.Handler = NewHandler(srv, logger, opts...)

	return p, nil
}

// Start restores the token snapshot and starts the expiry sweeper.
func (p *Proxy) Start(ctx context.Context) error {
	return p.Server.Start(ctx)
}

// Routes returns the proxy's HTTP routes plus the metrics endpoint.
func (p *Proxy) Routes() http.Handler {
	mux := http.NewServeMux()
	p.Handler.RegisterRoutes(mux)
	mux.Handle("GET "+MetricsEndpointPath, p.Instrumentation.MetricsHandler())
	return mux
}

// Shutdown stops the sweeper, writes the final snapshot and flushes
// telemetry. It keeps going past failures and reports them together.
func (p *Proxy) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.Server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop engine: %w", err))
	}
	for _, rl := range p.limiters {
		rl.Stop()
	}
	if err := p.Instrumentation.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down instrumentation: %w", err))
	}
	return errors.Join(errs...)
}

// ResolveEncryptionKey returns the snapshot encryption key selected by cfg,
// or nil when encryption is off. A configured value that is not a base64
// AES-256 key is treated as a passphrase.
func ResolveEncryptionKey(cfg StorageConfig) ([]byte, error) {
	switch cfg.EncryptionKeySource {
	case "", KeySourceNone:
		return nil, nil
	case KeySourceConfig:
		return keyFromString(cfg.EncryptionKey)
	case KeySourceKeyring:
		secret, err := keyring.Get(KeyringService, KeyringUser)
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("no encryption key in the OS keyring, run 'key generate --store-keyring' first")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read encryption key from keyring: %w", err)
		}
		return keyFromString(secret)
	default:
		return nil, fmt.Errorf("unknown encryption key source %q", cfg.EncryptionKeySource)
	}
}

func keyFromString(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	if key, err := security.KeyFromBase64(s); err == nil {
		return key, nil
	}
	return security.DeriveKey(s, keyDerivationSalt)
}

// StoreKeyInKeyring saves key, base64 encoded, in the OS keyring.
func StoreKeyInKeyring(key []byte) error {
	if err := keyring.Set(KeyringService, KeyringUser, security.KeyToBase64(key)); err != nil {
		return fmt.Errorf("failed to store encryption key in keyring: %w", err)
	}
	return nil
}
