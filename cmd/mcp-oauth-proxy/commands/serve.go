package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/giantswarm/mcp-oauth-proxy/internal/app"
	"github.com/giantswarm/mcp-oauth-proxy/internal/observability"
)

// serveCommand returns the 'serve' subcommand that runs the proxy.
func serveCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Starts the proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "address to listen on (host:port)",
			},
			&cli.StringFlag{
				Name:  "issuer",
				Usage: "externally visible base URL of the proxy",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serveAction(ctx, cmd, version)
		},
	}
}

func serveAction(ctx context.Context, cmd *cli.Command, version string) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := observability.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	// Set up observability before creating app
	shutdownObservability, err := observability.Instrument(level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		if err := shutdownObservability(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Failed to flush logs", "error", err)
		}
	}()

	application, err := app.New(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting", "addr", cfg.ListenAddr, "issuer", cfg.Issuer, "version", version)

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
