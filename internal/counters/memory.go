package counters

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]int64{}}
}

func (m *MemoryStore) Incr(_ context.Context, key string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] += n
	return nil
}

func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			delete(m.values, key)
		}
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64)
	for key, value := range m.values {
		if strings.HasPrefix(key, prefix) {
			out[key] = value
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
