package cache

import (
	"context"
	"time"
)

// Counter maintains fixed-window counters. Rate limiting keys on client IP or user id.
type Counter interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Store is the shared key/value cache, backed by Redis when configured and by the cache_entries
// table otherwise.
type Store interface {
	Counter
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

var (
	_ Store = (*DatabaseStore)(nil)
	_ Store = (*RedisClient)(nil)
)
