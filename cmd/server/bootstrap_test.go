package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/foodbridge/internal/app"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	cfg := &app.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "foodbridge.db")
	cfg.Auth.JWT.Secret = "bootstrap-test-secret"
	cfg.Auth.JWT.Issuer = "foodbridge-test"
	cfg.Auth.JWT.TTL = time.Hour
	cfg.Realtime.SendBuffer = 16
	cfg.Monitoring.Health.Enabled = true
	return cfg
}

func TestBootstrapRuntimeWithLocalBroker(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Hub)
	require.Nil(t, stack.Redis)
	require.NotNil(t, stack.RateStore)

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrapRuntimeWithRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Cache.Redis.Enabled = true
	cfg.Cache.Redis.Address = mr.Addr()
	cfg.Realtime.Broker = "redis"
	cfg.Realtime.Channel = "foodbridge:test"

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Redis)

	count, _, err := stack.RateStore.Increment(context.Background(), "ratelimit:bootstrap", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestBootstrapRuntimeFailsWithoutRedisForRedisBroker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Enabled = true
	cfg.Cache.Redis.Address = "127.0.0.1:1"
	cfg.Cache.Redis.Timeout = 200 * time.Millisecond
	cfg.Realtime.Broker = "redis"

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis")
}

func TestBootstrapFallsBackToDatabaseRateStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Enabled = true
	cfg.Cache.Redis.Address = "127.0.0.1:1"
	cfg.Cache.Redis.Timeout = 200 * time.Millisecond

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.Nil(t, stack.Redis)
	count, _, err := stack.RateStore.Increment(context.Background(), "ratelimit:fallback", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres = app.DBAuthConfig{
		Host:     " db.internal ",
		Port:     5433,
		Database: "foodbridge",
		Username: "fb",
		Password: "secret",
		Options:  map[string]string{"sslmode": "require"},
	}

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5433, dbCfg.Port)
	require.Equal(t, "foodbridge", dbCfg.Name)
	require.Equal(t, "require", dbCfg.Options["sslmode"])

	cfg.Database.Driver = ""
	require.Equal(t, "sqlite", convertDatabaseConfig(cfg).Driver)
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, loadEnvFile(""))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOODBRIDGE_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("FOODBRIDGE_TEST_ENV_FILE") })

	require.NoError(t, loadEnvFile(path))
	require.Equal(t, "loaded", os.Getenv("FOODBRIDGE_TEST_ENV_FILE"))
}

func TestLoadApplicationConfigRejectsMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}
