// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"maps"
	"sync"

	"github.com/giantswarm/mcp-oauth-proxy/storage"
)

// Compile-time interface check
var _ storage.Persister = (*Persister)(nil)

// Persister is a mock storage.Persister that keeps the last saved snapshot
// in memory and counts calls. Set LoadFunc or SaveFunc to inject behavior.
type Persister struct {
	mu sync.Mutex

	LoadFunc func(ctx context.Context) (map[string]storage.TokenRecord, error)
	SaveFunc func(ctx context.Context, records map[string]storage.TokenRecord) error

	snapshot   map[string]storage.TokenRecord
	CallCounts map[string]int
}

// NewPersister creates a mock persister whose initial snapshot is records.
func NewPersister(records map[string]storage.TokenRecord) *Persister {
	m := &Persister{
		snapshot:   maps.Clone(records),
		CallCounts: make(map[string]int),
	}
	if m.snapshot == nil {
		m.snapshot = make(map[string]storage.TokenRecord)
	}
	return m
}

// Load returns the current snapshot or the result of LoadFunc.
func (m *Persister) Load(ctx context.Context) (map[string]storage.TokenRecord, error) {
	m.mu.Lock()
	m.CallCounts["Load"]++
	fn := m.LoadFunc
	snapshot := maps.Clone(m.snapshot)
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return snapshot, nil
}

// Save records the snapshot, unless SaveFunc returns an error.
func (m *Persister) Save(ctx context.Context, records map[string]storage.TokenRecord) error {
	m.mu.Lock()
	m.CallCounts["Save"]++
	fn := m.SaveFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, records); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.snapshot = maps.Clone(records)
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the last saved snapshot.
func (m *Persister) Snapshot() map[string]storage.TokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.snapshot)
}

// Calls returns how many times method was called.
func (m *Persister) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}
