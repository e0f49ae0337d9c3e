package remote

import (
	"context"
	"sort"
	"sync"

	"cercasp-go/internal/cercasp"
)

// memoryDocs keeps encoded documents in process memory.
type memoryDocs struct {
	mu   sync.RWMutex
	cols map[string]map[string][]byte
}

var _ documents = (*memoryDocs)(nil)

// NewMemoryStore creates an in-process remote store for tests and local runs.
func NewMemoryStore(ids cercasp.IDGenerator, clock cercasp.Clock, logger cercasp.Logger) *Store {
	docs := &memoryDocs{cols: make(map[string]map[string][]byte)}
	return newStore(docs, newHub(), ids, clock, logger)
}

func (m *memoryDocs) load(_ context.Context, collection, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.cols[collection][id]
	if !ok {
		return nil, cercasp.ErrNotFound
	}
	return raw, nil
}

func (m *memoryDocs) save(_ context.Context, collection, id string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.cols[collection]
	if !ok {
		col = make(map[string][]byte)
		m.cols[collection] = col
	}
	col[id] = doc
	return nil
}

func (m *memoryDocs) remove(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cols[collection], id)
	return nil
}

func (m *memoryDocs) list(_ context.Context, collection string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col := m.cols[collection]
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([][]byte, len(ids))
	for i, id := range ids {
		out[i] = col[id]
	}
	return out, nil
}

func (m *memoryDocs) ping(context.Context) error { return nil }

func (m *memoryDocs) close() error { return nil }
