package util

import "strings"

// TokenLogPrefixLength is the number of characters of an opaque key or token
// that may appear in logs.
const TokenLogPrefixLength = 8

// SafeTruncate safely truncates a string to maxLen bytes without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen bytes. If maxLen is negative, it's treated as 0.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
//	SafeTruncate("test", -1)                   // Returns: ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Redact returns the loggable form of a secret value: its first
// TokenLogPrefixLength characters followed by an ellipsis. Empty input
// yields "<empty>".
func Redact(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	if len(secret) <= TokenLogPrefixLength {
		return SafeTruncate(secret, TokenLogPrefixLength/2) + "..."
	}
	return SafeTruncate(secret, TokenLogPrefixLength) + "..."
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
//
// Example:
//
//	NormalizeURL("https://example.com/")   // Returns: "https://example.com"
//	NormalizeURL("https://example.com///") // Returns: "https://example.com"
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// JoinURL appends path to base, ensuring exactly one slash between them.
func JoinURL(base, path string) string {
	return NormalizeURL(base) + "/" + strings.TrimLeft(path, "/")
}
