package app

import (
	"strings"

	"github.com/charlesng35/foodbridge/internal/cache"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// UsesRedisBroker reports whether realtime fan-out should go through Redis pub/sub.
func (c RealtimeConfig) UsesRedisBroker() bool {
	return strings.EqualFold(strings.TrimSpace(c.Broker), "redis")
}
