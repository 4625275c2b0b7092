package history

import (
	"context"
	"sync"
)

// Memory keeps batches in process.
type Memory struct {
	mu    sync.RWMutex
	blobs map[uint64][]byte
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[uint64][]byte)}
}

func (m *Memory) Put(ctx context.Context, generation uint64, data []byte) error {
	m.mu.Lock()
	m.blobs[generation] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, generation uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[generation]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) Delete(ctx context.Context, generation uint64) error {
	m.mu.Lock()
	delete(m.blobs, generation)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint64, 0, len(m.blobs))
	for g := range m.blobs {
		out = append(out, g)
	}
	return out, nil
}
