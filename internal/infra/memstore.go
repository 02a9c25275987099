package infra

import (
	"sort"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// MemoryStore implements domain.KeyValueStore in memory.
// Used by tests and by embedders that persist state elsewhere.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	writes int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value and whether the key exists.
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set writes a single key.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.writes++
	return nil
}

// SetMany writes all keys under one lock.
func (m *MemoryStore) SetMany(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	m.writes++
	return nil
}

// Delete removes keys.
func (m *MemoryStore) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	m.writes++
	return nil
}

// Keys lists keys with prefix in sorted order.
func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// CompareAndSwap sets key to newValue if the current value equals oldValue.
func (m *MemoryStore) CompareAndSwap(key, oldValue, newValue string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] != oldValue {
		return false, nil
	}
	m.values[key] = newValue
	m.writes++
	return true, nil
}

// CompareAndSwapWith swaps key and writes values under one lock.
func (m *MemoryStore) CompareAndSwapWith(key, oldValue, newValue string, values map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] != oldValue {
		return false, nil
	}
	m.values[key] = newValue
	for k, v := range values {
		m.values[k] = v
	}
	m.writes++
	return true, nil
}

// Writes returns how many mutating calls have succeeded (for tests).
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Ensure MemoryStore implements domain.KeyValueStore.
var _ domain.KeyValueStore = (*MemoryStore)(nil)
