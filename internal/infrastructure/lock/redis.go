package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
)

// releaseScript deletes a key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker locks keys across processes with SET NX PX. A crashed holder's keys expire after ttl.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a distributed locker
func NewRedisLocker(client *redis.Client, prefix string, ttl, wait time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		wait:   wait,
		retry:  50 * time.Millisecond,
		logger: logger,
	}
}

// Acquire implements port.Locker
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	ordered := normalize(keys)

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	var taken []string
	for _, key := range ordered {
		if err := l.lock(ctx, l.prefix+key, token); err != nil {
			l.unlock(taken, token)
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		taken = append(taken, l.prefix+key)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		l.unlock(taken, token)
	}, nil
}

func (l *RedisLocker) lock(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ErrTimeout
			}
			return ctx.Err()
		}
	}
}

func (l *RedisLocker) unlock(keys []string, token string) {
	// release must succeed even if the caller's context is gone
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
}

var _ port.Locker = (*RedisLocker)(nil)
