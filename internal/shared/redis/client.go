package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

const statsPrefix = "ratelimit:stats"

type Client struct {
	client *redis.Client

	// statsTTL bounds the lifetime of per-minute stat buckets.
	statsTTL time.Duration
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client, statsTTL: 24 * time.Hour}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores a value with TTL
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Del removes keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// RecordDecision counts a rate limit decision for a tier (guest, user,
// channel) in a cumulative hash and a per-minute bucket.
func (c *Client) RecordDecision(ctx context.Context, tier string, allowed bool, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}

	field := tier + ":denied"
	if allowed {
		field = tier + ":allowed"
	}

	bucketKey := fmt.Sprintf("%s:minute:%s", statsPrefix, at.UTC().Format("200601021504"))

	pipe := c.client.Pipeline()
	pipe.HIncrBy(ctx, statsPrefix+":total", field, 1)
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	pipe.Expire(ctx, bucketKey, c.statsTTL)

	_, err := pipe.Exec(ctx)
	return err
}
