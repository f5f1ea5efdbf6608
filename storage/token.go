package storage

import (
	"fmt"

	"github.com/giantswarm/mcp-oauth-proxy/security"
)

// EncryptRecord returns a copy of rec with both upstream tokens sealed.
// If encryptor is nil or disabled, the record is returned unchanged.
func EncryptRecord(rec TokenRecord, encryptor *security.Encryptor) (TokenRecord, error) {
	if !encryptor.IsEnabled() {
		return rec, nil
	}

	access, err := encryptor.Encrypt(rec.AccessToken)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := encryptor.Encrypt(rec.RefreshToken)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	return TokenRecord{AccessToken: access, RefreshToken: refresh, ExpiresAt: rec.ExpiresAt}, nil
}

// DecryptRecord reverses EncryptRecord. Unsealed values pass through, so a
// snapshot written before encryption was enabled still loads.
func DecryptRecord(rec TokenRecord, encryptor *security.Encryptor) (TokenRecord, error) {
	access, err := encryptor.Decrypt(rec.AccessToken)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := encryptor.Decrypt(rec.RefreshToken)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return TokenRecord{AccessToken: access, RefreshToken: refresh, ExpiresAt: rec.ExpiresAt}, nil
}
