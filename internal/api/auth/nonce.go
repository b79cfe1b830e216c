package auth

import (
	"context"
	"sync"
)

// memoryNonceStore keeps challenges in process memory for the in-memory ledger backend
type memoryNonceStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryNonceStore creates a process-local nonce store
func NewMemoryNonceStore() NonceStore {
	return &memoryNonceStore{values: make(map[string]string)}
}

func (m *memoryNonceStore) SetKeyValue(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryNonceStore) ConsumeKeyValue(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value := m.values[key]
	delete(m.values, key)
	return value, nil
}
