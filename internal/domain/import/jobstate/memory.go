package jobstate

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Checkpoint
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Put(_ context.Context, cp Checkpoint) error {
	cp = stamp(cp)
	cp.Errors = slices.Clone(cp.Errors)
	s.mu.Lock()
	s.data[cp.Key] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	cp.Errors = slices.Clone(cp.Errors)
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Prune(_ context.Context, olderThan time.Time, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, cp := range s.data {
		if cp.UpdatedAt.Before(olderThan) && !slices.Contains(keep, key) {
			delete(s.data, key)
			n++
		}
	}
	return n, nil
}
