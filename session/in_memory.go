package session

import (
	"sync"

	"github.com/agentpipe/agentpipe/core"
)

// Store persists execution contexts keyed by conversation context id.
type Store interface {
	// Get returns the stored context for the id, or ok=false if none exists.
	Get(contextID string) (*core.ExecutionContext, bool, error)

	// Save stores a snapshot of the context under the id, replacing any
	// previous snapshot.
	Save(contextID string, ec *core.ExecutionContext) error

	// Delete removes the conversation. Deleting an unknown id is a no-op.
	Delete(contextID string) error
}

// InMemoryStore is a volatile Store keeping conversations in a process-local
// map. It is safe for concurrent access and best suited for tests or
// single-instance servers. Contexts are cloned on both Save and Get so
// callers never share backing storage with the store.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.ExecutionContext
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*core.ExecutionContext)}
}

// Get implements Store.
func (s *InMemoryStore) Get(contextID string) (*core.ExecutionContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ec, ok := s.conversations[contextID]
	if !ok {
		return nil, false, nil
	}
	return ec.Clone(), true, nil
}

// Save implements Store.
func (s *InMemoryStore) Save(contextID string, ec *core.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[contextID] = ec.Clone()
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, contextID)
	return nil
}
