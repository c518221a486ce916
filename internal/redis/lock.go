package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our sentinel,
// so a worker that outlived its TTL cannot release a successor's lock.
const releaseScript = `if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end`

// locker is the subset of redis.Client the lock needs
type locker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Lock is a cache-backed mutual-exclusion primitive: an atomic
// set-if-absent with TTL. Contention is resolved by skipping, not
// queueing — the caller's work is retried by its next natural trigger.
// The TTL bounds staleness if the holder crashes before releasing.
type Lock struct {
	client locker
	logger *slog.Logger
}

// NewLock creates a distributed lock over the shared cache
func NewLock(client *Client, logger *slog.Logger) *Lock {
	return &Lock{client: client.Rdb(), logger: logger}
}

// MembershipKey returns the lock key guarding membership recomputation
// for one player. The namespace is shared with other subsystems that
// need the same per-player exclusion.
func MembershipKey(playerID string) string {
	return fmt.Sprintf("membership-check:%s", playerID)
}

// WithLock runs fn while holding the key, releasing it afterwards
// regardless of fn's outcome. If the key is already held, fn is skipped
// entirely and WithLock returns false. The returned error is only ever
// an infrastructure failure talking to the cache or fn's own error.
func (l *Lock) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	sentinel := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, sentinel, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !acquired {
		l.logger.Debug("lock held elsewhere, skipping", "key", key)
		return false, nil
	}

	defer func() {
		// fn may have run the caller's deadline out; the release must
		// still go through or the key lingers until the TTL.
		releaseCtx := context.WithoutCancel(ctx)
		if err := l.client.Eval(releaseCtx, releaseScript, []string{key}, sentinel).Err(); err != nil {
			l.logger.Warn("failed to release lock, ttl will expire it", "key", key, "error", err)
		}
	}()

	return true, fn(ctx)
}
