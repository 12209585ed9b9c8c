package paircache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/redis"
)

const defaultKeyPrefix = "sorrel:pair:"

// RedisCache shares pair outcomes between processes. Entries expire after ttl
// so stale configuration versions age out.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger ectologger.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger ectologger.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: defaultKeyPrefix, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := c.client.Redis().Get(ctx, c.prefix+key).Bytes()
	if redis.IsNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read pair cache: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// a corrupt entry is treated as a miss and overwritten by the next Set
		c.logger.WithContext(ctx).WithError(err).Warnf("discarding unreadable pair cache entry %s", key)
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode pair cache entry: %w", err)
	}
	if err := c.client.Redis().Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write pair cache: %w", err)
	}
	return nil
}
