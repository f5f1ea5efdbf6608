package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	oauth "github.com/giantswarm/mcp-oauth-proxy"
	"github.com/giantswarm/mcp-oauth-proxy/internal/util"
	"github.com/giantswarm/mcp-oauth-proxy/security"
	"github.com/giantswarm/mcp-oauth-proxy/storage/file"
)

// tokensCommand returns the 'tokens' subcommand for inspecting the snapshot.
func tokensCommand() *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "Inspect the persisted token snapshot",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List live proxy tokens with their expiry (keys are redacted)",
				Action: tokensListAction,
			},
		},
	}
}

func tokensListAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is not set, tokens are kept in memory only")
	}

	key, err := oauth.ResolveEncryptionKey(cfg.Storage)
	if err != nil {
		return err
	}
	encryptor, err := security.NewEncryptor(key)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}

	records, err := file.New(cfg.Storage.Path, encryptor, slog.Default()).Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return records[keys[i]].ExpiresAt.Before(records[keys[j]].ExpiresAt)
	})

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TOKEN\tEXPIRES\tREMAINING\tREFRESHABLE")
	now := time.Now()
	for _, k := range keys {
		rec := records[k]
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n",
			util.Redact(k),
			rec.ExpiresAt.Format(time.RFC3339),
			rec.RemainingLifetime(now).Truncate(time.Second),
			rec.RefreshToken != "",
		)
	}
	return tw.Flush()
}
