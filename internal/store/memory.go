package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation backed by a map. It is
// used in tests and for single-node development runs without Redis.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get retrieves a record. Returns (nil, nil) if the key does not exist.
func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Put stores a record, replacing any existing record under the key.
func (s *MemoryStore) Put(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec.Clone()
	return nil
}

// Update applies a partial patch, creating the record if it is missing.
func (s *MemoryStore) Update(_ context.Context, key string, patch Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = make(Record, len(patch))
		s.records[key] = rec
	}
	for k, v := range patch {
		rec[k] = v
	}
	return nil
}

// Delete removes a record. Deleting a missing key is a no-op.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// QueryByAttribute scans all records for attr == value. Linear, which is
// fine for the data volumes this implementation serves.
func (s *MemoryStore) QueryByAttribute(_ context.Context, attr, value string) ([]Keyed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Keyed, 0)
	for key, rec := range s.records {
		if rec[attr] == value {
			out = append(out, Keyed{Key: key, Record: rec.Clone()})
		}
	}
	return out, nil
}
