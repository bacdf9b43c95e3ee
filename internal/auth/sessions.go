// ABOUTME: AuthenticatedSession set tracking which live connections passed auth
// ABOUTME: Owned by a gateway instance; entries are removed on disconnect

package auth

import "sync"

// Sessions is a thread-safe set of authenticated connection ids.
type Sessions struct {
	mu    sync.RWMutex
	conns map[string]*Identity
}

// NewSessions creates an empty session set.
func NewSessions() *Sessions {
	return &Sessions{conns: make(map[string]*Identity)}
}

// Add marks connID as authenticated with identity.
func (s *Sessions) Add(connID string, identity *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connID] = identity
}

// Remove forgets connID. Removing an unknown id is a no-op.
func (s *Sessions) Remove(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
}

// Get returns the identity for connID if it has authenticated.
func (s *Sessions) Get(connID string) (*Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.conns[connID]
	return id, ok
}

// IsAuthenticated reports whether connID is in the set.
func (s *Sessions) IsAuthenticated(connID string) bool {
	_, ok := s.Get(connID)
	return ok
}

// Len returns the number of authenticated connections.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
