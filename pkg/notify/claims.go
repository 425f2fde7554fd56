package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultClaimTTL bounds how long a sent notification blocks a resend.
const DefaultClaimTTL = 7 * 24 * time.Hour

// Claims records which notifications were already sent.
type Claims interface {
	// Claim returns true when key was free and is now held for ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees key so a later delivery may retry.
	Release(ctx context.Context, key string) error
}

// RedisClaims stores claims as Redis keys.
type RedisClaims struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisClaims(rdb redis.UniversalClient) *RedisClaims {
	return &RedisClaims{rdb: rdb, prefix: "notify:sent:"}
}

func (c *RedisClaims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, c.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (c *RedisClaims) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

// MemoryClaims keeps claims in process.
type MemoryClaims struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{expires: make(map[string]time.Time), now: time.Now}
}

func (c *MemoryClaims) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.expires[key] = now.Add(ttl)
	return true, nil
}

func (c *MemoryClaims) Release(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.expires, key)
	c.mu.Unlock()
	return nil
}

// ConnectRedis dials Redis and retries the ping until it answers or
// cfg.ConnectTimeout elapses.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrRedisConnString, err)
	}

	for range max(cfg.RetryAttempts, 1) {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}
