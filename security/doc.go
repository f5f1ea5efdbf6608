// Package security provides the cryptographic and defensive building blocks of
// the proxy.
//
// # PKCE and Opaque Identifiers
//
// GenerateVerifier and S256Challenge produce the proxy's own PKCE pair toward
// the upstream provider (RFC 7636, method S256). GenerateOpaqueID produces the
// 256-bit identifiers used for transaction ids, proxy codes, proxy access
// tokens and registered client ids. Entropy failures are returned as errors
// and only fail the operation in progress.
//
// # Encryption at Rest
//
// Encryptor seals token values in the persisted snapshot with AES-256-GCM. A
// key is either 32 raw bytes (KeyFromBase64) or derived from a passphrase with
// HKDF-SHA256 (DeriveKey).
//
// # Audit Logging
//
// Auditor emits structured security events through slog. Client identifiers
// are logged as-is, anything that could identify a token is hashed.
//
// # Rate Limiting
//
// RateLimiter is a per-identifier token bucket (golang.org/x/time/rate) with
// LRU eviction, used by the HTTP layer to bound registration and callback
// traffic per client IP (GetClientIP).
package security
