package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cercasp-go/internal/cercasp"
)

// memoryStore keeps rows in process memory. Items do not survive a restart,
// so it is meant for tests and throwaway sessions.
type memoryStore struct {
	tables map[string][]StoredItem
	nextID map[string]int64
}

var _ DurableKeyedStore = (*memoryStore)(nil)

// NewMemoryStore creates a memory store with one table per collection.
func NewMemoryStore(collections []string) DurableKeyedStore {
	s := &memoryStore{
		tables: make(map[string][]StoredItem, len(collections)),
		nextID: make(map[string]int64, len(collections)),
	}
	for _, t := range collections {
		s.tables[t] = nil
	}
	return s
}

func (s *memoryStore) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for t := range s.tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

func (s *memoryStore) Append(_ context.Context, collection string, payload []byte, enqueuedAt time.Time) (int64, error) {
	if _, ok := s.tables[collection]; !ok {
		return 0, fmt.Errorf("%w: %s", cercasp.ErrUnknownCollection, collection)
	}
	s.nextID[collection]++
	id := s.nextID[collection]
	s.tables[collection] = append(s.tables[collection], StoredItem{
		ID:         id,
		Payload:    append([]byte(nil), payload...),
		EnqueuedAt: enqueuedAt,
	})
	return id, nil
}

func (s *memoryStore) Scan(_ context.Context, collection string) ([]StoredItem, error) {
	rows, ok := s.tables[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cercasp.ErrUnknownCollection, collection)
	}
	out := make([]StoredItem, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, collection string, id int64) error {
	rows, ok := s.tables[collection]
	if !ok {
		return fmt.Errorf("%w: %s", cercasp.ErrUnknownCollection, collection)
	}
	for i, r := range rows {
		if r.ID == id {
			s.tables[collection] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memoryStore) Clear(_ context.Context, collection string) error {
	if _, ok := s.tables[collection]; !ok {
		return fmt.Errorf("%w: %s", cercasp.ErrUnknownCollection, collection)
	}
	s.tables[collection] = nil
	return nil
}

func (s *memoryStore) Count(_ context.Context, collection string) (int, error) {
	rows, ok := s.tables[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", cercasp.ErrUnknownCollection, collection)
	}
	return len(rows), nil
}

func (s *memoryStore) Close() error { return nil }
