package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs the memory storage mode and tests; records do
// not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) lookup(id string) *Record {
	if record, ok := s.records[id]; ok {
		return &record
	}
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := recordID(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	res, write, err := reserve(s.lookup(id), key, fingerprint, now.UTC(), ttl)
	if err != nil {
		return Reservation{}, err
	}
	if write != nil {
		s.records[id] = *write
	}
	return res, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := recordID(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := complete(s.lookup(id), key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.records[id] = record
	return nil
}

// Release drops the reservation when fingerprint still owns it.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := recordID(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.lookup(id); current != nil && current.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired deletes up to limit expired records; a non-positive limit means no bound.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if record.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
