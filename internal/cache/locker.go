package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockPollInterval = 100 * time.Millisecond

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a best-effort mutex over SET NX PX. A holder that outlives
// the TTL loses the lock silently.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// Lock blocks until the key is acquired or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}

	unlock := func() {
		// Release even when the caller's context is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("Failed to release lock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return unlock, nil
}
