// Package generic implements providers.Provider for any OAuth2 authorization
// server whose authorization and token endpoints are configured explicitly.
//
// The proxy is a public client: the client id is sent in the request body
// and no client secret is ever used.
package generic
