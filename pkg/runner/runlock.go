package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock serializes runs per source key. Different keys may run
// concurrently; the same key must never interleave.
type RunLock interface {
	// Acquire takes the lock for the source key, returning a release
	// function, or ErrRunInProgress when it is held.
	Acquire(ctx context.Context, sourceKey string) (func(), error)
}

// LocalLock is the in-process lock for single-instance deployments.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLock creates an empty local lock table.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]bool)}
}

func (l *LocalLock) Acquire(_ context.Context, sourceKey string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sourceKey] {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, sourceKey)
	}
	l.held[sourceKey] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, sourceKey)
	}, nil
}

// releaseUnlockScript deletes the lock key only when the caller still
// owns it, so an expired lock reacquired by another instance is never
// released from here.
var releaseUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock coordinates runs across multiple steward instances.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock creates a lock with the given ownership TTL. The TTL
// bounds how long a crashed instance can wedge a source key.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context, sourceKey string) (func(), error) {
	key := "steward:runlock:" + sourceKey
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, sourceKey)
	}

	return func() {
		// Release is best-effort; TTL expiry is the backstop.
		_ = releaseUnlockScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}, nil
}
