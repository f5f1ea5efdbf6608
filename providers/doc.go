// Package providers defines the interface the proxy uses to talk to its
// upstream OAuth2 authorization server, and helpers shared by implementations.
//
// The proxy acts as a public client toward upstream: it never sends a client
// secret and always uses PKCE with the S256 method. Implementations live in
// subpackages; generic covers any RFC 6749 server with explicitly configured
// endpoints, and mock is used in tests.
package providers
