package oauth

import (
	"bytes"
	"context"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/giantswarm/mcp-oauth-proxy/internal/testutil"
	"github.com/giantswarm/mcp-oauth-proxy/security"
)

func TestNewProxy_RejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()

	if _, err := NewProxy(ctx, nil, "test", discardLogger()); err == nil {
		t.Error("NewProxy(nil) should fail")
	}

	cfg := validConfig()
	cfg.Upstream.ClientID = ""
	if _, err := NewProxy(ctx, cfg, "test", discardLogger()); err == nil {
		t.Error("NewProxy() should reject a config without upstream client id")
	}
}

func TestProxy_ShutdownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, err := NewProxy(ctx, validConfig(), "test", discardLogger())
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, p.Start(ctx))

	testutil.AssertNoError(t, p.Shutdown(ctx))
	testutil.AssertNoError(t, p.Shutdown(ctx))
}

func TestResolveEncryptionKey(t *testing.T) {
	keyring.MockInit()

	generated, err := security.GenerateKey()
	testutil.AssertNoError(t, err)
	encoded := security.KeyToBase64(generated)

	tests := []struct {
		name    string
		setup   func(t *testing.T)
		cfg     StorageConfig
		wantNil bool
		wantKey []byte
		wantErr bool
	}{
		{name: "none", cfg: StorageConfig{EncryptionKeySource: KeySourceNone}, wantNil: true},
		{name: "unset", cfg: StorageConfig{}, wantNil: true},
		{
			name:    "base64 key from config",
			cfg:     StorageConfig{EncryptionKeySource: KeySourceConfig, EncryptionKey: encoded},
			wantKey: generated,
		},
		{
			name: "passphrase from config",
			cfg:  StorageConfig{EncryptionKeySource: KeySourceConfig, EncryptionKey: "correct horse battery staple"},
		},
		{
			name:    "empty config key",
			cfg:     StorageConfig{EncryptionKeySource: KeySourceConfig},
			wantErr: true,
		},
		{
			name: "keyring",
			setup: func(t *testing.T) {
				testutil.AssertNoError(t, StoreKeyInKeyring(generated))
			},
			cfg:     StorageConfig{EncryptionKeySource: KeySourceKeyring},
			wantKey: generated,
		},
		{
			name: "keyring without key",
			setup: func(t *testing.T) {
				_ = keyring.Delete(KeyringService, KeyringUser)
			},
			cfg:     StorageConfig{EncryptionKeySource: KeySourceKeyring},
			wantErr: true,
		},
		{name: "unknown source", cfg: StorageConfig{EncryptionKeySource: "vault"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(t)
			}

			key, err := ResolveEncryptionKey(tt.cfg)
			if tt.wantErr {
				testutil.AssertError(t, err)
				return
			}
			testutil.AssertNoError(t, err)

			switch {
			case tt.wantNil:
				if key != nil {
					t.Errorf("key = %x, want nil", key)
				}
			case tt.wantKey != nil:
				if !bytes.Equal(key, tt.wantKey) {
					t.Errorf("key = %x, want %x", key, tt.wantKey)
				}
			default:
				testutil.AssertEqual(t, len(key), security.KeySize)
			}
		})
	}
}

func TestResolveEncryptionKey_PassphraseIsStable(t *testing.T) {
	cfg := StorageConfig{EncryptionKeySource: KeySourceConfig, EncryptionKey: "same phrase"}

	a, err := ResolveEncryptionKey(cfg)
	testutil.AssertNoError(t, err)
	b, err := ResolveEncryptionKey(cfg)
	testutil.AssertNoError(t, err)

	if !bytes.Equal(a, b) {
		t.Error("the same passphrase should derive the same key")
	}
}
