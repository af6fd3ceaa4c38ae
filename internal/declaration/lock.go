package declaration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zambezi-erp/zambezi-erp/internal/platform/cache"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// RedisLocker serialises declaration generation across processes.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker builds a locker with the given lease ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the lock or reports a conflict when another process holds
// it. The returned function releases the lock.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock := cache.NewLock(l.client, key, uuid.NewString(), l.ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &shared.ConcurrencyConflictError{Entity: "declaration_lock"}
	}
	return func() { _ = lock.Release(context.WithoutCancel(ctx)) }, nil
}
