package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"credverify/internal/verify/alias"
	"credverify/pkg/platform/sentinel"
)

// InMemoryStore keeps alias entries for the life of the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[common.Address]alias.Entry
}

// New creates an empty store.
func New() *InMemoryStore {
	return &InMemoryStore{entries: make(map[common.Address]alias.Entry)}
}

// Get returns the entry for address or sentinel.ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, address common.Address) (alias.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[address]
	if !ok {
		return alias.Entry{}, sentinel.ErrNotFound
	}
	return e, nil
}

// PutIfAbsent stores e unless address already has an entry.
func (s *InMemoryStore) PutIfAbsent(_ context.Context, address common.Address, e alias.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[address]; !ok {
		s.entries[address] = e
	}
	return nil
}

// Len returns the number of memoized addresses.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
