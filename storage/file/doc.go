// Package file persists the token table as a single JSON document.
//
// The document maps each proxy key to its upstream credentials:
//
//	{
//	  "<key>": {"accessToken": "...", "refreshToken": "...", "expiresAt": "2026-01-02T03:04:05Z"}
//	}
//
// Saves replace the file atomically (temp file, fsync, rename) with mode
// 0600. Loads decode every entry on its own so one damaged entry does not
// discard the rest, and drop entries that have already expired.
//
// When an Encryptor is configured, token values are sealed with AES-256-GCM
// before they are written.
package file
