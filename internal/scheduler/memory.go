// ABOUTME: In-memory task Store for tests and deployments without a database
// ABOUTME: Hands out deep copies so callers never share state with the store

package scheduler

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// ListTasks returns every task ordered by creation time.
func (m *MemoryStore) ListTasks(_ context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveTask upserts t, keeping any stored results.
func (m *MemoryStore) SaveTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := t.clone()
	cp.Running = false
	if existing, ok := m.tasks[t.ID]; ok {
		cp.Results = existing.Results
	} else {
		cp.Results = nil
	}
	m.tasks[t.ID] = cp
	return nil
}

// AppendTaskResult stores r and keeps the newest keep results.
func (m *MemoryStore) AppendTaskResult(_ context.Context, taskID string, r Result, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	r.Tools = append([]string(nil), r.Tools...)
	t.appendResult(r, keep)
	return nil
}

// DeleteTask removes the task. Missing ids are ignored.
func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}
