// Package memory provides an in-memory implementation of the proxy's
// transaction and token stores.
//
// Both tables live in plain maps guarded by one sync.RWMutex. Compound
// operations (ConsumeTransaction, RotateToken, SweepExpired) run inside a
// single critical section, which is what makes transactions and proxy codes
// single-use under concurrent requests.
//
// The store itself is not durable. The token table is written to disk by a
// storage.Persister (see storage/file) using SnapshotTokens, and restored at
// startup with LoadTokens.
//
// Example usage:
//
//	store := memory.New(memory.WithLogger(logger))
//	n := store.LoadTokens(ctx, records)
package memory
