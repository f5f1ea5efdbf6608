// Package storage defines the proxy's state model and the interfaces that hold it.
//
// Two tables make up the proxy's state:
//   - TransactionStore: pending authorize→callback flows, keyed by transaction id
//     (which doubles as the upstream state parameter). Short TTL, memory only.
//   - TokenStore: opaque proxy-issued keys (proxy codes and proxy access tokens)
//     mapped to TokenRecords holding the upstream credentials. Longer TTL, durable.
//
// A Persister turns the token table into a durable snapshot and back.
//
// Expiry is part of the data model: a record whose ExpiresAt has passed is
// logically absent even before a sweep removes it, and every read path reports
// ErrExpired for it instead of returning it.
//
// Implementations are provided in subpackages:
//   - storage/memory: the in-memory tables with atomic compound operations
//   - storage/file: the JSON snapshot persister
//   - storage/mock: a recording Persister for tests
package storage
