package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained indicates the named critical section is held by another worker.
var ErrLockNotObtained = fmt.Errorf("lock held by another worker: %w", ErrRetryable)

// AuditApplyLockKey builds the redis key guarding adjustment application for an audit.
func AuditApplyLockKey(auditID int64) string {
	return fmt.Sprintf("audit:%d:apply", auditID)
}

// Locker hands out short-lived distributed locks backed by redis.
type Locker struct {
	client *redislock.Client
}

// NewLocker wraps a redis client.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: redislock.New(client)}
}

// Acquire obtains key for ttl without waiting. The returned func releases the lock.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}
