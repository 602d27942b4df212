// Package store persists decision ledger entries.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"contramind/internal/ledger/models"
	"contramind/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in insertion order. Ids start at 1.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*models.Entry
	byKey   map[string]int
	now     func() time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{byKey: make(map[string]int), now: time.Now}
}

// Reserve inserts a pending entry and assigns its id. A duplicate idempotency
// key returns sentinel.ErrConflict.
func (s *InMemoryStore) Reserve(_ context.Context, entry *models.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[entry.IdempotencyKey]; ok {
		return 0, sentinel.ErrConflict
	}
	stored := *entry
	stored.ID = int64(len(s.entries) + 1)
	stored.Status = models.StatusPending
	stored.Bundle = append([]byte(nil), entry.Bundle...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.entries = append(s.entries, &stored)
	s.byKey[stored.IdempotencyKey] = len(s.entries) - 1
	entry.ID = stored.ID
	return stored.ID, nil
}

// Attach finalizes a pending entry. Attaching to a final entry returns
// sentinel.ErrConflict.
func (s *InMemoryStore) Attach(_ context.Context, key string, a models.Attachment) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	current := s.entries[idx]
	if current.IsFinal() {
		return nil, sentinel.ErrConflict
	}
	s.entries[idx] = current.Apply(a)
	return clone(s.entries[idx]), nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.entries[idx]), nil
}

// Range returns entries with from <= id <= to in id order.
func (s *InMemoryStore) Range(_ context.Context, from, to int64) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Entry
	for _, e := range s.entries {
		if e.ID >= from && e.ID <= to {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

// Since returns up to limit entries with id > afterID in id order.
func (s *InMemoryStore) Since(_ context.Context, afterID int64, limit int) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].ID > afterID })
	var out []*models.Entry
	for i := start; i < len(s.entries) && len(out) < limit; i++ {
		out = append(out, clone(s.entries[i]))
	}
	return out, nil
}

// ListPending returns pending entries created before olderThan, oldest first.
func (s *InMemoryStore) ListPending(_ context.Context, olderThan time.Time, limit int) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Entry
	for _, e := range s.entries {
		if len(out) >= limit {
			break
		}
		if !e.IsFinal() && e.CreatedAt.Before(olderThan) {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

func (s *InMemoryStore) MaxID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func clone(e *models.Entry) *models.Entry {
	c := *e
	c.Bundle = append([]byte(nil), e.Bundle...)
	if e.FinalizedAt != nil {
		t := *e.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}

// LockForAnchoring is a no-op: Since already reads under the store mutex and
// ids are assigned in commit order.
func (s *InMemoryStore) LockForAnchoring(context.Context) error {
	return nil
}
