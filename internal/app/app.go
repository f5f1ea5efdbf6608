package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/mcp-oauth-proxy"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// App orchestrates the lifecycle of the proxy engine and its HTTP server.
type App struct {
	cfg    *oauth.Config
	proxy  *oauth.Proxy
	health *Health
	logger *slog.Logger
}

// New assembles the proxy described by cfg.
func New(ctx context.Context, cfg *oauth.Config, version string) (*App, error) {
	logger := slog.Default()

	proxy, err := oauth.NewProxy(ctx, cfg, version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:    cfg,
		proxy:  proxy,
		health: NewHealth(),
		logger: logger,
	}, nil
}

// Health exposes the readiness state
func (a *App) Health() *Health {
	return a.health
}

// Start starts all services and blocks until ctx is cancelled or a
// service fails. Services are shut down in reverse start order.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: restore the snapshot before accepting requests
	slog.InfoContext(gCtx, "starting proxy engine")
	if err := a.proxy.Start(gCtx); err != nil {
		return fmt.Errorf("engine startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		a.shutdown(shutdownFuncs)
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.ListenAddr, err)
	}

	httpServer := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}
	shutdownFuncs = append(shutdownFuncs, func(ctx context.Context) error {
		a.health.SetReady(false)
		return httpServer.Shutdown(ctx)
	})

	g.Go(func() error {
		slog.InfoContext(gCtx, "http server listening", "addr", listener.Addr().String(), "issuer", a.cfg.Issuer)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(gCtx, "http server runtime error", "error", err)
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	a.health.SetReady(true)

	// gCtx ends on cancellation or when the server fails
	<-gCtx.Done()

	slog.InfoContext(ctx, "shutting down services")

	errs := a.shutdown(shutdownFuncs)
	if runtimeErr := g.Wait(); runtimeErr != nil {
		errs = append([]error{fmt.Errorf("runtime: %w", runtimeErr)}, errs...)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// shutdown runs fns in reverse order with a shared timeout.
func (a *App) shutdown(fns []func(context.Context) error) []error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}
