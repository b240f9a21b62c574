package site

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	table    *Table
	storedAt int64
}

// MemoryStore keeps sites in process memory. Used for tests and for
// deployments without a writable disk.
type MemoryStore struct {
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(maxAge time.Duration) *MemoryStore {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &MemoryStore{maxAge: maxAge, now: time.Now, entries: map[string]memoryEntry{}}
}

func (s *MemoryStore) Get(_ context.Context, siteID string) (*Table, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[siteID]
	if !ok {
		return nil, false, nil
	}
	if expired(e.storedAt, s.maxAge, s.now()) {
		delete(s.entries, siteID)
		return nil, false, nil
	}
	return e.table.Clone(), true, nil
}

func (s *MemoryStore) Set(_ context.Context, siteID string, t *Table) error {
	s.mu.Lock()
	s.entries[siteID] = memoryEntry{table: t.Clone(), storedAt: s.now().UnixNano()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, siteID string) error {
	s.mu.Lock()
	delete(s.entries, siteID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = map[string]memoryEntry{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
