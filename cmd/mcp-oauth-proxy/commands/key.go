package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	oauth "github.com/giantswarm/mcp-oauth-proxy"
	"github.com/giantswarm/mcp-oauth-proxy/security"
)

// keyCommand returns the 'key' subcommand for managing the snapshot
// encryption key.
func keyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Manage the token snapshot encryption key",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Generate a new AES-256 key",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "store-keyring",
						Usage: "save the key in the OS keyring instead of printing it",
					},
				},
				Action: keyGenerateAction,
			},
		},
	}
}

func keyGenerateAction(_ context.Context, cmd *cli.Command) error {
	key, err := security.GenerateKey()
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	if cmd.Bool("store-keyring") {
		if err := oauth.StoreKeyInKeyring(key); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Key stored in the OS keyring (service %q). Set storage.encryption_key_source = %q.\n",
			oauth.KeyringService, oauth.KeySourceKeyring)
		return nil
	}

	_, _ = fmt.Fprintln(out, security.KeyToBase64(key))
	return nil
}
