package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisCache connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key namespace, e.g. "sentry:ratelimit:"
}

// RedisCache is a distributed KV cache backed by Redis, for state that
// must survive process restarts or be shared across instances. Its only
// consumer is entitystore.Store, which deletes address keys when an address
// is assigned or labelled and never reads them; Incr has no caller, and the
// alert engine does not keep its rate-limit windows here.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(cfg RedisConfig) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get returns the raw string value for key, or ("", false) if absent.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// Incr atomically increments key and sets ttl on its first increment within
// a window, implementing a fixed-window rate-limit counter: the caller
// compares the returned count against its configured limit.
func (c *RedisCache) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := c.key(key)
	count, err := c.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}
