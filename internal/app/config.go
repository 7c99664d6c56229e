package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the FoodBridge backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Features    FeatureConfig     `mapstructure:"features"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig bounds requests per client within a window.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Postgres        DBAuthConfig  `mapstructure:"postgres"`
	MySQL           DBAuthConfig  `mapstructure:"mysql"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RealtimeConfig configures the websocket channel manager and its broker.
type RealtimeConfig struct {
	// Broker selects room fan-out: "local" (single instance) or "redis" (pub/sub across instances).
	Broker         string   `mapstructure:"broker"`
	Channel        string   `mapstructure:"channel"`
	SendBuffer     int      `mapstructure:"send_buffer"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig captures authentication-related settings.
type AuthConfig struct {
	JWT      JWTSettings      `mapstructure:"jwt"`
	Password PasswordSettings `mapstructure:"password"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// PasswordSettings configures password hashing.
type PasswordSettings struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

// FeatureConfig toggles optional behaviour.
type FeatureConfig struct {
	Requests RequestFeatureConfig `mapstructure:"requests"`
}

// RequestFeatureConfig controls food request decisions.
type RequestFeatureConfig struct {
	// AutoRejectSiblings rejects the other pending requests on a post when one is accepted.
	AutoRejectSiblings bool `mapstructure:"auto_reject_siblings"`
}

// MaintenanceConfig schedules background cleanup jobs.
type MaintenanceConfig struct {
	NotificationRetention time.Duration `mapstructure:"notification_retention"`
	NotificationSchedule  string        `mapstructure:"notification_schedule"`
	PresenceStaleAfter    time.Duration `mapstructure:"presence_stale_after"`
	PresenceSchedule      string        `mapstructure:"presence_schedule"`
	CacheSchedule         string        `mapstructure:"cache_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// Environment variables use the FOODBRIDGE_ prefix, e.g. FOODBRIDGE_REALTIME_BROKER.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("FOODBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Realtime.Broker)) {
	case "", "local":
	case "redis":
		if !c.Cache.Redis.Enabled {
			return errors.New("config: realtime.broker=redis requires cache.redis.enabled")
		}
	default:
		return fmt.Errorf("config: unknown realtime.broker %q", c.Realtime.Broker)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.requests", 300)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/foodbridge.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "0s")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("realtime.broker", "local")
	v.SetDefault("realtime.channel", "foodbridge:realtime")
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.allowed_origins", []string{})

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "foodbridge")
	v.SetDefault("auth.jwt.access_token_ttl", "24h")
	v.SetDefault("auth.password.bcrypt_cost", 10)

	v.SetDefault("features.requests.auto_reject_siblings", false)

	v.SetDefault("maintenance.notification_retention", "720h") // 30 days
	v.SetDefault("maintenance.notification_schedule", "@daily")
	v.SetDefault("maintenance.presence_stale_after", "5m")
	v.SetDefault("maintenance.presence_schedule", "@every 1m")
	v.SetDefault("maintenance.cache_schedule", "@every 5m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
