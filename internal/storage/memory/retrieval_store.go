package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/docfetch/internal/fetch"
)

// RetrievalStore implements fetch.RetrievalStore.
type RetrievalStore struct {
	mu      sync.RWMutex
	records []fetch.RetrievalRecord
	ids     map[string]struct{}
}

// NewRetrievalStore creates an empty store.
func NewRetrievalStore() *RetrievalStore {
	return &RetrievalStore{ids: make(map[string]struct{})}
}

// StoreRetrieval appends record. IDs must be unique.
func (s *RetrievalStore) StoreRetrieval(_ context.Context, record fetch.RetrievalRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[record.ID]; dup {
		return errors.New("record already exists")
	}
	s.ids[record.ID] = struct{}{}
	s.records = append(s.records, record)
	return nil
}

// Records returns the stored rows in insertion order.
func (s *RetrievalStore) Records() []fetch.RetrievalRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]fetch.RetrievalRecord(nil), s.records...)
}

// ByBatch returns the rows for one batch.
func (s *RetrievalStore) ByBatch(batchID string) []fetch.RetrievalRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fetch.RetrievalRecord
	for _, r := range s.records {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	return out
}
