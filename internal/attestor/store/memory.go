package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"contramind/internal/attestor/models"
	"contramind/pkg/platform/sentinel"
)

// InMemory is a KeyStore for single-instance deployments and tests.
type InMemory struct {
	mu   sync.Mutex
	keys map[string]models.KeyRecord
}

func NewInMemory() *InMemory {
	return &InMemory{keys: make(map[string]models.KeyRecord)}
}

func (s *InMemory) Register(_ context.Context, rec models.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.keys[rec.KID]; ok {
		if existing.PublicKey != rec.PublicKey {
			return sentinel.ErrConflict
		}
		return nil
	}
	rec.Active = false
	rec.ActivatedAt = nil
	s.keys[rec.KID] = rec
	return nil
}

func (s *InMemory) Activate(_ context.Context, kid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.keys[kid]
	if !ok {
		return sentinel.ErrNotFound
	}
	for k, rec := range s.keys {
		if rec.Active && k != kid {
			rec.Active = false
			s.keys[k] = rec
		}
	}
	if !target.Active {
		target.Active = true
		target.ActivatedAt = &at
		s.keys[kid] = target
	}
	return nil
}

func (s *InMemory) List(_ context.Context) ([]models.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.KeyRecord, 0, len(s.keys))
	for _, rec := range s.keys {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(recs []models.KeyRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].KID < recs[j].KID
	})
}
