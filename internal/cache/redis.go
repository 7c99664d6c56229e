package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig captures the connection parameters for the Redis cache and broker.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
	Prefix   string
}

const (
	defaultRedisTimeout = 5 * time.Second
	defaultRedisPrefix  = "foodbridge:"
)

// RedisClient is a Store backed by go-redis. The underlying client is shared with the
// realtime broker so one instance holds a single connection pool.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// NewRedisClient creates a new Redis client. It pings eagerly so that misconfiguration is
// surfaced during application startup.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultRedisPrefix
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Address, err)
	}

	return &RedisClient{client: client, prefix: cfg.Prefix}, nil
}

// Client exposes the underlying go-redis client.
func (c *RedisClient) Client() *redis.Client {
	return c.client
}

// Close closes the connection pool.
func (c *RedisClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IncrementWithTTL increments the supplied key and sets the TTL on the first hit of a window.
// It returns the current count and the remaining time-to-live.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	prefixed := c.prefixed(key)

	count, err := c.client.Incr(ctx, prefixed).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := c.client.PExpire(ctx, prefixed, window).Err(); err != nil {
			return 0, 0, err
		}
		return count, window, nil
	}

	ttl, err := c.client.PTTL(ctx, prefixed).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// Key lost its expiry; restore it so the counter cannot live forever.
		if err := c.client.PExpire(ctx, prefixed, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}
	return count, ttl, nil
}

// Set stores the value with an optional TTL.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.prefixed(key), value, ttl).Err()
}

// Get retrieves a value by key.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes keys from Redis.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, c.prefixed(key))
	}
	return c.client.Del(ctx, prefixed...).Err()
}

func (c *RedisClient) prefixed(key string) string {
	if strings.HasPrefix(key, c.prefix) {
		return key
	}
	return c.prefix + key
}
