// ABOUTME: In-memory audit Store used in tests and for ephemeral deployments
// ABOUTME: Keeps entries in a slice in append order

package audit

import (
	"context"
	"sync"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	seq     int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendAudit stores a copy of e.
func (m *MemoryStore) AppendAudit(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.Seq = m.seq
	m.entries = append(m.entries, *e)
	return nil
}

// ListAudit returns matching entries newest first.
func (m *MemoryStore) ListAudit(_ context.Context, f Filter, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Entry{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if f.Matches(&m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// AuditStats aggregates every stored entry.
func (m *MemoryStore) AuditStats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{ByAgent: make(map[string]int)}
	for i := range m.entries {
		stats.add(&m.entries[i])
	}
	return stats, nil
}
