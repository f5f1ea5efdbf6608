package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	oauth "github.com/giantswarm/mcp-oauth-proxy"
)

// envPrefix marks the environment variables read as config. A double
// underscore separates nesting levels: MCP_OAUTH_PROXY_UPSTREAM__CLIENT_ID.
const envPrefix = "MCP_OAUTH_PROXY_"

// flagKeys maps command line flags onto config keys
var flagKeys = map[string]string{
	"listen-addr": "listen_addr",
	"issuer":      "issuer",
	"log-level":   "log.level",
	"log-format":  "log.format",
}

// loadConfig layers defaults, the TOML file at path, the environment and
// explicitly set flags, in that order. A missing file is only an error
// when the user named it.
func loadConfig(path string, cmd *cli.Command, environ func() []string) (*oauth.Config, error) {
	k := koanf.New(".")

	defaults, err := defaultsMap()
	if err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			explicit := cmd != nil && cmd.IsSet("config")
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	if environ == nil {
		environ = os.Environ
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnv,
		EnvironFunc:   environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if cmd != nil {
		for flag, key := range flagKeys {
			if cmd.IsSet(flag) {
				if err := k.Set(key, cmd.String(flag)); err != nil {
					return nil, fmt.Errorf("failed to apply flag --%s: %w", flag, err)
				}
			}
		}
	}

	var cfg oauth.Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// transformEnv turns MCP_OAUTH_PROXY_UPSTREAM__CLIENT_ID into
// upstream.client_id. Scopes may be given comma or space separated.
func transformEnv(k, v string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(k, envPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "upstream.scopes" {
		return key, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' '
		})
	}
	return key, v
}

// defaultsMap flattens oauth.DefaultConfig into koanf keys. The snapshot
// defaults to the per-user data directory.
func defaultsMap() (map[string]any, error) {
	d := oauth.DefaultConfig()

	tokensPath, err := xdg.DataFile(appName + "/tokens.json")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	return map[string]any{
		"listen_addr":                   d.ListenAddr,
		"issuer":                        d.Issuer,
		"upstream.callback_url":         d.Upstream.CallbackURL,
		"upstream.timeout":              d.Upstream.Timeout.String(),
		"storage.path":                  tokensPath,
		"storage.encryption_key_source": d.Storage.EncryptionKeySource,
		"sweeper.interval":              d.Sweeper.Interval.String(),
		"security.registration_rate":    d.Security.RegistrationRate,
		"security.registration_burst":   d.Security.RegistrationBurst,
		"security.callback_rate":        d.Security.CallbackRate,
		"security.callback_burst":       d.Security.CallbackBurst,
		"security.trust_proxy":          d.Security.TrustProxy,
		"security.trusted_proxy_count":  d.Security.TrustedProxyCount,
		"security.audit":                d.Security.Audit,
		"telemetry.metrics_exporter":    d.Telemetry.MetricsExporter,
		"telemetry.traces_exporter":     d.Telemetry.TracesExporter,
		"telemetry.otlp_endpoint":       d.Telemetry.OTLPEndpoint,
		"telemetry.otlp_insecure":       d.Telemetry.OTLPInsecure,
		"telemetry.service_name":        d.Telemetry.ServiceName,
		"telemetry.log_client_ips":      d.Telemetry.LogClientIPs,
		"log.level":                     d.Log.Level,
		"log.format":                    d.Log.Format,
	}, nil
}
