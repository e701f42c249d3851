package flowgraph

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps checkpoints and registry entries in process memory.
type MemoryStore struct {
	mutex       sync.RWMutex
	checkpoints map[string][]byte
	entries     map[string]*RegistryEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: map[string][]byte{},
		entries:     map[string]*RegistryEntry{},
	}
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, executionID string, data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkpoints[executionID] = slices.Clone(data)
	return nil
}

func (s *MemoryStore) LoadCheckpoint(ctx context.Context, executionID string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	data, ok := s.checkpoints[executionID]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return slices.Clone(data), nil
}

func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, executionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.checkpoints, executionID)
	return nil
}

func (s *MemoryStore) PutEntry(ctx context.Context, entry *RegistryEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	copied := *entry
	s.entries[entry.ExecutionID] = &copied
	return nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, executionID string) (*RegistryEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	entry, ok := s.entries[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	copied := *entry
	return &copied, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context) ([]*RegistryEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	entries := make([]*RegistryEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		copied := *entry
		entries = append(entries, &copied)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *MemoryStore) DeleteEntry(ctx context.Context, executionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, executionID)
	delete(s.checkpoints, executionID)
	return nil
}
