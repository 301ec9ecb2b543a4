// Package lock provides the cross-instance mutual exclusion used by the
// cron-style loops. Only one instance cluster-wide may run a scheduler or
// poller cycle at a time; the others skip the cycle rather than wait.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained reports that another instance holds the lock.
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock; callers release it when the cycle finishes.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker obtains named locks with a TTL. The TTL bounds how long a crashed
// holder can block other instances.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// RedisLocker implements Locker on redislock.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(redisClient redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(redisClient)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	held, err := l.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrNotObtained
		}
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return redisLock{held}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l redisLock) Release(ctx context.Context) error {
	if err := l.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	return nil
}
