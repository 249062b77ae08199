package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wesm/imsgtext/internal/attrbody"
)

const (
	// DefaultTTL is how long a cached result is kept.
	DefaultTTL = 30 * 24 * time.Hour

	// keyPrefix namespaces cache keys in Redis.
	keyPrefix = "imsgtext:resolve:"
)

// Redis is a Cache backed by a Redis server. Entries expire after the TTL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a cache on an existing client. A non-positive ttl
// uses DefaultTTL.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// Dial parses a redis:// URL, connects and pings the server.
func Dial(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(rdb, ttl), nil
}

// Close closes the underlying client.
func (c *Redis) Close() error {
	return c.rdb.Close()
}

func (c *Redis) Get(ctx context.Context, key string) (attrbody.Result, bool, error) {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return attrbody.Result{}, false, nil
	}
	if err != nil {
		return attrbody.Result{}, false, fmt.Errorf("cache GET: %w", err)
	}
	var r attrbody.Result
	if err := json.Unmarshal(data, &r); err != nil {
		// Entry written by an incompatible version; treat as a miss.
		return attrbody.Result{}, false, nil
	}
	return r, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, result attrbody.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache SET: %w", err)
	}
	return nil
}
