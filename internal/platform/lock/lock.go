// Package lock provides expiring leases keyed by string. A lease is advisory:
// correctness still rests on unique indexes and compare-and-set writes, the lease
// only keeps concurrent owners from doing the same work twice.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lease is held until Release or until it expires.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Locker hands out leases. Acquire reports ok=false when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
	Release(ctx context.Context, lease Lease) error
}

// MemoryLocker is a single-process Locker.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]Lease), now: time.Now}
}

// WithClock replaces the clock used for expiry. Tests only.
func (m *MemoryLocker) WithClock(now func() time.Time) *MemoryLocker {
	m.now = now
	return m
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.leases[key]; ok && now.Before(held.ExpiresAt) {
		return Lease{}, false, nil
	}
	lease := Lease{Key: key, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	m.leases[key] = lease
	return lease, true, nil
}

// Release drops the lease only if it is still held by the same token.
func (m *MemoryLocker) Release(_ context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[lease.Key]; ok && held.Token == lease.Token {
		delete(m.leases, lease.Key)
	}
	return nil
}
