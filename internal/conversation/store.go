// ABOUTME: Conversation storage interface and an in-memory implementation
// ABOUTME: Appends are atomic per call; reads return copies

package conversation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Store errors
var (
	ErrNotFound = errors.New("conversation not found")
	ErrNotOwner = errors.New("conversation belongs to another owner")
)

// Store persists conversations.
type Store interface {
	// AppendMessages appends msgs to conversation id, creating it for owner
	// when it does not exist yet. Returns ErrNotOwner if it exists with a
	// different owner.
	AppendMessages(ctx context.Context, id, owner string, msgs []Message) error

	// GetConversation returns the conversation with all messages in order.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*Conversation)}
}

// AppendMessages implements Store.
func (m *MemoryStore) AppendMessages(_ context.Context, id, owner string, msgs []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	conv, ok := m.conversations[id]
	if !ok {
		conv = &Conversation{ID: id, Owner: owner, CreatedAt: now}
		m.conversations[id] = conv
	} else if conv.Owner != owner {
		return ErrNotOwner
	}
	conv.Messages = append(conv.Messages, msgs...)
	conv.UpdatedAt = now
	return nil
}

// GetConversation implements Store.
func (m *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	cp.Messages = append([]Message(nil), conv.Messages...)
	return &cp, nil
}
