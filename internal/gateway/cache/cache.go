package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

const channelsKey = "cache:channels:enabled"

// Store is the subset of the Redis client the cache needs
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Source loads enabled channels from the database
type Source interface {
	ListEnabledChannels(ctx context.Context) ([]models.Channel, error)
}

// ChannelCache serves the enabled channel list from Redis for up to ttl.
// Admin edits become visible after the TTL expires or after Invalidate.
//
// API keys never leave the process: the Redis copy has them blanked and they
// are filled back in from the keys seen on the last database read. A cached
// channel whose key this process has not seen forces a database read.
type ChannelCache struct {
	store  Store
	source Source
	ttl    time.Duration

	mu   sync.RWMutex
	keys map[int64]string
}

// New creates a new channel cache. A non-positive ttl disables caching and
// every call goes to the source.
func New(store Store, source Source, ttl time.Duration) *ChannelCache {
	return &ChannelCache{store: store, source: source, ttl: ttl, keys: make(map[int64]string)}
}

// ListEnabledChannels returns cached channels or loads them from the source
func (c *ChannelCache) ListEnabledChannels(ctx context.Context) ([]models.Channel, error) {
	if c.ttl <= 0 || c.store == nil {
		return c.source.ListEnabledChannels(ctx)
	}

	if val, err := c.store.Get(ctx, channelsKey); err == nil {
		var cached []models.Channel
		if err := json.Unmarshal([]byte(val), &cached); err != nil {
			log.Printf("discarding undecodable channel cache entry")
		} else if c.attachKeys(cached) {
			return cached, nil
		}
	}

	channels, err := c.source.ListEnabledChannels(ctx)
	if err != nil {
		return nil, err
	}
	c.rememberKeys(channels)

	redacted := make([]models.Channel, len(channels))
	copy(redacted, channels)
	for i := range redacted {
		redacted[i].APIKey = ""
	}

	// Serialize and store; a cache write failure only costs a DB read next time
	data, err := json.Marshal(redacted)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize channels: %w", err)
	}
	if err := c.store.Set(ctx, channelsKey, string(data), c.ttl); err != nil {
		log.Printf("channel cache write error: %v", err)
	}

	return channels, nil
}

// Invalidate drops the cached list so the next read hits the database
func (c *ChannelCache) Invalidate(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Del(ctx, channelsKey)
}

func (c *ChannelCache) rememberKeys(channels []models.Channel) {
	keys := make(map[int64]string, len(channels))
	for i := range channels {
		keys[channels[i].ID] = channels[i].APIKey
	}
	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()
}

// attachKeys fills in API keys and reports whether every channel had one.
func (c *ChannelCache) attachKeys(channels []models.Channel) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range channels {
		key, ok := c.keys[channels[i].ID]
		if !ok {
			return false
		}
		channels[i].APIKey = key
	}
	return true
}
