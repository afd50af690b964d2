// Package cache is the feed page cache: whole-value get/set with a
// TTL, never a correctness dependency. Any failure on the read path is
// a miss and failures on the write path are the caller's to swallow.
package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
	prefix string
}

func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{client: client, prefix: "feed:"}, nil
}

// NewWithClient wraps an existing Redis client; used by tests.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "feed:"}
}

func (c *Cache) key(key string) string {
	return c.prefix + key
}

// Get returns the cached value for key, or ok=false on a miss. Errors
// from the backend are logged and reported as misses so an unavailable
// cache degrades to store reads.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("cache get %s: %v", key, err)
		return nil, false
	}
	return value, true
}

// Set stores value under key with the given TTL. The error is returned
// so callers can log it; it must never fail a request.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
