package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyCachePrefix = "auth:key:"
	defaultKeyTTL  = 5 * time.Minute
)

// CachedKey maps a verified API key to its account. KeyHash pins the
// entry to the credential that was active when it was cached.
type CachedKey struct {
	AccountID string `json:"account_id"`
	KeyHash   string `json:"key_hash"`
}

// GetKey returns the entry stored under cacheKey, or nil on a miss.
func (c *Cache) GetKey(ctx context.Context, cacheKey string) (*CachedKey, error) {
	data, err := c.client.Get(ctx, keyCachePrefix+cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached key: %w", err)
	}

	var cached CachedKey
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted entry - treat as miss
		return nil, nil //nolint:nilerr
	}
	return &cached, nil
}

// SetKey caches a verified key.
func (c *Cache) SetKey(ctx context.Context, cacheKey string, entry CachedKey) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cached key: %w", err)
	}
	return c.client.Set(ctx, keyCachePrefix+cacheKey, data, c.keyTTL).Err()
}

// DeleteKey removes a cached key.
func (c *Cache) DeleteKey(ctx context.Context, cacheKey string) error {
	return c.client.Del(ctx, keyCachePrefix+cacheKey).Err()
}
