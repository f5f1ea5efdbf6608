// Package util provides small helpers shared by the proxy packages.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - Redact: Produces the short token prefix used in every log line
//   - NormalizeURL / JoinURL: Build endpoint URLs from the configured issuer
package util
