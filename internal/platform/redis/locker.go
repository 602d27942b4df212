package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"contramind/internal/platform/lock"
)

const leaseKeyPrefix = "contramind:lease:"

// releaseScript deletes the key only when it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements lock.Locker with SET NX PX.
type Locker struct {
	client redis.UniversalClient
}

func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, leaseKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return lock.Lease{}, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return lock.Lease{}, false, nil
	}
	return lock.Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, true, nil
}

func (l *Locker) Release(ctx context.Context, lease lock.Lease) error {
	if err := releaseScript.Run(ctx, l.client, []string{leaseKeyPrefix + lease.Key}, lease.Token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", lease.Key, err)
	}
	return nil
}
