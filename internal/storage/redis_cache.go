package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Epetaway/mtg-proxy-generator/internal/nameindex"
)

// NamesCacheKey holds the JSON-encoded name snapshot
const NamesCacheKey = "cardscan:names:v1"

// RedisNameCache persists the canonical name list in Redis. Entries carry their
// own fetch time; staleness is decided by the index, so no TTL is set.
type RedisNameCache struct {
	client *redis.Client
	key    string
}

// NewRedisNameCache connects to Redis
func NewRedisNameCache(redisURL string) (*RedisNameCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisNameCacheFromClient(client), nil
}

// NewRedisNameCacheFromClient wraps an existing client
func NewRedisNameCacheFromClient(client *redis.Client) *RedisNameCache {
	return &RedisNameCache{client: client, key: NamesCacheKey}
}

// Load implements nameindex.Cache
func (c *RedisNameCache) Load(ctx context.Context) (*nameindex.Snapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read name cache: %w", err)
	}

	var snap nameindex.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode name cache: %w", err)
	}
	return &snap, nil
}

// Store implements nameindex.Cache
func (c *RedisNameCache) Store(ctx context.Context, snap *nameindex.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode name cache: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write name cache: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisNameCache) Close() error {
	return c.client.Close()
}
