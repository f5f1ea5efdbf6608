// Package server implements the proxy engine.
//
// The Server sits between an MCP client and a single upstream authorization
// server. The client talks OAuth 2.1 with PKCE to the proxy; the proxy runs
// its own PKCE exchange against upstream and never hands upstream tokens to
// the client. Instead it mints opaque proxy codes and proxy access tokens
// that resolve to the upstream credentials through ValidateToken.
//
// Flow:
//   - Authorize stores a transaction holding a fresh verifier and returns the
//     upstream authorization URL. The transaction id is the upstream state.
//   - HandleCallback exchanges the upstream code, consumes the transaction and
//     redirects the client with a proxy code.
//   - ExchangeAuthorizationCode moves the record from the proxy code to a new
//     proxy access token. A code works once.
//   - ValidateToken resolves a proxy access token.
//
// Issued tokens are snapshotted through a storage.Persister after every
// change. Start launches a sweeper that drops expired entries; Stop halts it
// and writes a final snapshot.
//
// Example usage:
//
//	provider, _ := generic.NewProvider(&generic.Config{...})
//	store := memory.New()
//	persister := file.New(path, nil, logger)
//
//	srv, err := server.New(provider, store, persister, &server.Config{
//	    Issuer: "https://proxy.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Stop(context.Background())
package server
