package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryCounter counts failed processing attempts per message.
type RetryCounter interface {
	// Increment records one more failure and returns the total so far
	Increment(ctx context.Context, messageID string) (int, error)
	Reset(ctx context.Context, messageID string) error
}

// Counters outlive any sane redelivery cycle but do not accumulate forever
const retryCounterTTL = 24 * time.Hour

type RedisRetryCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisRetryCounter(client *redis.Client, prefix string) *RedisRetryCounter {
	return &RedisRetryCounter{client: client, prefix: prefix}
}

func (c *RedisRetryCounter) key(messageID string) string {
	return fmt.Sprintf("%s:retries:%s", c.prefix, messageID)
}

func (c *RedisRetryCounter) Increment(ctx context.Context, messageID string) (int, error) {
	key := c.key(messageID)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, retryCounterTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (c *RedisRetryCounter) Reset(ctx context.Context, messageID string) error {
	if err := c.client.Del(ctx, c.key(messageID)).Err(); err != nil {
		return fmt.Errorf("failed to reset retry counter: %w", err)
	}
	return nil
}

// MemoryRetryCounter keeps counters in process. Counts are lost on restart
// and are not shared between consumer instances.
type MemoryRetryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryRetryCounter() *MemoryRetryCounter {
	return &MemoryRetryCounter{counts: make(map[string]int)}
}

func (c *MemoryRetryCounter) Increment(_ context.Context, messageID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[messageID]++
	return c.counts[messageID], nil
}

func (c *MemoryRetryCounter) Reset(_ context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, messageID)
	return nil
}
