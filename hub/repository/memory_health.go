package repository

import (
	"context"
	"sync"

	"github.com/conduitchat/conduit/hub/domain/health"
	"github.com/conduitchat/conduit/hub/domain/storage"
)

// MemoryHealthStore keeps health records in a mutex-guarded map.
type MemoryHealthStore struct {
	mu      sync.RWMutex
	records map[string]health.Record
}

func NewMemoryHealthStore() *MemoryHealthStore {
	return &MemoryHealthStore{records: make(map[string]health.Record)}
}

func (s *MemoryHealthStore) Get(ctx context.Context, channelID string) (*health.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := rec
	return &copied, nil
}

func (s *MemoryHealthStore) Put(ctx context.Context, rec health.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ChannelID] = rec
	return nil
}

func (s *MemoryHealthStore) Delete(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, channelID)
	return nil
}

func (s *MemoryHealthStore) List(ctx context.Context) ([]health.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]health.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}
