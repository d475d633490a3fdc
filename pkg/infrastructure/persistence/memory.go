// Package persistence provides the key/value stores behind domain.KVStore:
// an in-memory map, a JSON file, and SQLite. Namespace scopes any of them to
// one application and, optionally, one user.
package persistence

import (
	"sort"
	"strings"
	"sync"

	"github.com/wndlink/wndlink/pkg/domain"
)

// MemoryStore keeps values in a map. Used by tests and by --storage memory.
type MemoryStore struct {
	items map[string]string
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(key, value string) error {
	if key == "" {
		return domain.ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Count returns the number of stored keys.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

var _ domain.KVStore = (*MemoryStore)(nil)
