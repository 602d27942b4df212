package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"contramind/pkg/platform/sentinel"
)

// InMemoryStore is a process-local parameter store for tests and dev.
type InMemoryStore struct {
	mu         sync.RWMutex
	thresholds map[string]decimal.Decimal
	allowlist  map[string]struct{}
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		thresholds: make(map[string]decimal.Decimal),
		allowlist:  make(map[string]struct{}),
	}
}

func (s *InMemoryStore) Load(_ context.Context) (Contents, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Contents{
		Thresholds: maps.Clone(s.thresholds),
		Allowlist:  slices.Sorted(maps.Keys(s.allowlist)),
	}, nil
}

func (s *InMemoryStore) SetThreshold(_ context.Context, key string, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds[key] = value
	return nil
}

func (s *InMemoryStore) DeleteThreshold(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.thresholds[key]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.thresholds, key)
	return nil
}

func (s *InMemoryStore) AddCountry(_ context.Context, country string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowlist[country] = struct{}{}
	return nil
}

func (s *InMemoryStore) RemoveCountry(_ context.Context, country string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowlist, country)
	return nil
}

// SeedIfEmpty stores contents only when both tables are empty.
func (s *InMemoryStore) SeedIfEmpty(_ context.Context, contents Contents) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.thresholds) > 0 || len(s.allowlist) > 0 {
		return false, nil
	}
	maps.Copy(s.thresholds, contents.Thresholds)
	for _, c := range contents.Allowlist {
		s.allowlist[c] = struct{}{}
	}
	return true, nil
}
