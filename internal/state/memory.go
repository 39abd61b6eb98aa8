package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of Store.
type MemoryStore struct {
	records map[string]recordList
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]recordList),
	}
}

// LoadRecords returns a copy of the records stored for kind.
func (s *MemoryStore) LoadRecords(_ context.Context, kind string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.records[kind]
	if !ok {
		return nil, nil
	}
	return cloneRecords(list.Records), nil
}

// SaveRecords replaces the records stored for kind.
func (s *MemoryStore) SaveRecords(_ context.Context, kind string, records []json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[kind] = recordList{
		UpdatedAt: time.Now(),
		Records:   cloneRecords(records),
	}

	slog.Debug("saved records", "kind", kind, "count", len(records))
	return nil
}

// Kinds returns the stored kinds, sorted.
func (s *MemoryStore) Kinds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kinds := make([]string, 0, len(s.records))
	for k := range s.records {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Close releases resources.
func (*MemoryStore) Close() error {
	return nil
}

func cloneRecords(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return nil
	}
	out := make([]json.RawMessage, len(in))
	for i, r := range in {
		out[i] = slices.Clone(r)
	}
	return out
}
