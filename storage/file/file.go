package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/giantswarm/mcp-oauth-proxy/internal/util"
	"github.com/giantswarm/mcp-oauth-proxy/security"
	"github.com/giantswarm/mcp-oauth-proxy/storage"
)

const (
	dirPerm  = 0o700 // User-only directory permissions
	filePerm = 0o600 // User-only file permissions
)

// Compile-time interface check
var _ storage.Persister = (*Persister)(nil)

// entry is the on-disk form of a storage.TokenRecord.
type entry struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Persister reads and writes the token snapshot at Path.
type Persister struct {
	// Path of the snapshot file.
	Path string

	// Encryptor seals token values at rest. Nil or disabled stores plaintext.
	Encryptor *security.Encryptor

	// Logger receives warnings about skipped entries. Defaults to slog.Default().
	Logger *slog.Logger

	// Now is the clock used to drop expired entries on load. Defaults to time.Now.
	Now func() time.Time
}

// New creates a Persister for path.
func New(path string, encryptor *security.Encryptor, logger *slog.Logger) *Persister {
	return &Persister{Path: path, Encryptor: encryptor, Logger: logger}
}

func (p *Persister) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Persister) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// Load reads the snapshot. A missing file yields an empty map.
// Entries that fail to decode or decrypt are skipped with a warning.
func (p *Persister) Load(ctx context.Context) (map[string]storage.TokenRecord, error) {
	records := make(map[string]storage.TokenRecord)

	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return records, nil
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}

	now := p.now()
	skipped, expired := 0, 0
	for key, msg := range raw {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := p.decodeEntry(msg)
		if err != nil {
			skipped++
			p.logger().Warn("Skipping malformed token entry",
				"key_prefix", util.Redact(key),
				"error", err)
			continue
		}
		if rec.Expired(now) {
			expired++
			continue
		}
		records[key] = rec
	}

	p.logger().Debug("Loaded token snapshot",
		"path", p.Path,
		"loaded", len(records),
		"expired", expired,
		"skipped", skipped)

	return records, nil
}

// decodeEntry validates and decrypts one entry of the snapshot.
func (p *Persister) decodeEntry(msg json.RawMessage) (storage.TokenRecord, error) {
	var e entry
	if err := json.Unmarshal(msg, &e); err != nil {
		return storage.TokenRecord{}, fmt.Errorf("decoding entry: %w", err)
	}
	if e.AccessToken == "" {
		return storage.TokenRecord{}, errors.New("accessToken is missing")
	}
	if e.ExpiresAt.IsZero() {
		return storage.TokenRecord{}, errors.New("expiresAt is missing")
	}

	return storage.DecryptRecord(storage.TokenRecord{
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		ExpiresAt:    e.ExpiresAt,
	}, p.Encryptor)
}

// Save replaces the snapshot with records.
func (p *Persister) Save(ctx context.Context, records map[string]storage.TokenRecord) error {
	out := make(map[string]entry, len(records))
	for key, rec := range records {
		sealed, err := storage.EncryptRecord(rec, p.Encryptor)
		if err != nil {
			return fmt.Errorf("encrypting entry %s: %w", util.Redact(key), err)
		}
		out[key] = entry{
			AccessToken:  sealed.AccessToken,
			RefreshToken: sealed.RefreshToken,
			ExpiresAt:    sealed.ExpiresAt.UTC(),
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling token snapshot: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return writeFileAtomic(p.Path, data)
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		os.Remove(tempPath) //nolint:errcheck // best effort cleanup
	}

	if err := tmp.Chmod(filePerm); err != nil {
		cleanup()
		return fmt.Errorf("setting token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("closing token file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) //nolint:errcheck // Clean up temp file on error
		return fmt.Errorf("renaming token file: %w", err)
	}

	return nil
}
