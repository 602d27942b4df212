// Package store persists anchors.
package store

import (
	"context"
	"sync"
	"time"

	"contramind/internal/anchor/models"
	"contramind/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	anchors []models.Anchor
	now     func() time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{now: time.Now}
}

// Insert appends a when the latest anchor still ends at prevToID (0 when
// there is none) and a starts after it. Anything else is sentinel.ErrConflict.
func (s *InMemoryStore) Insert(_ context.Context, a models.Anchor, prevToID int64) (*models.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last int64
	if n := len(s.anchors); n > 0 {
		last = s.anchors[n-1].ToID
	}
	if last != prevToID || a.FromID <= prevToID || a.ToID < a.FromID {
		return nil, sentinel.ErrConflict
	}
	a.ID = int64(len(s.anchors) + 1)
	a.CreatedAt = s.now().UTC()
	s.anchors = append(s.anchors, a)
	out := a
	return &out, nil
}

func (s *InMemoryStore) Latest(_ context.Context) (*models.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.anchors) == 0 {
		return nil, sentinel.ErrNotFound
	}
	out := s.anchors[len(s.anchors)-1]
	return &out, nil
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (*models.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.anchors)) {
		return nil, sentinel.ErrNotFound
	}
	out := s.anchors[id-1]
	return &out, nil
}
