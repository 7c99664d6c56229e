package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/api"
	"github.com/charlesng35/foodbridge/internal/app"
	"github.com/charlesng35/foodbridge/internal/app/maintenance"
	iauth "github.com/charlesng35/foodbridge/internal/auth"
	"github.com/charlesng35/foodbridge/internal/cache"
	"github.com/charlesng35/foodbridge/internal/database"
	"github.com/charlesng35/foodbridge/internal/middleware"
	"github.com/charlesng35/foodbridge/internal/monitoring/checks"
	"github.com/charlesng35/foodbridge/internal/realtime"
	"github.com/charlesng35/foodbridge/internal/services"
	"github.com/charlesng35/foodbridge/pkg/logger"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisClient
	Hub       *realtime.Hub
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime opens storage, starts the realtime hub and background jobs, and builds the router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			if cfg.Realtime.UsesRedisBroker() {
				return nil, fmt.Errorf("connect redis broker: %w", err)
			}
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	presence, err := services.NewPresenceService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise presence service: %w", err)
	}

	notifications, err := services.NewNotificationService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	broker, err := newBroker(cfg, stack.Redis)
	if err != nil {
		return nil, err
	}

	stack.Hub = realtime.NewHub(
		realtime.WithBroker(broker),
		realtime.WithPresence(presence),
		realtime.WithSendBuffer(cfg.Realtime.SendBuffer),
		realtime.WithAllowedOrigins(cfg.Realtime.AllowedOrigins),
	)
	if err := stack.Hub.Start(ctx); err != nil {
		return nil, fmt.Errorf("start realtime hub: %w", err)
	}
	log.Info("realtime hub started", zap.String("broker", brokerName(cfg)))

	cleanerOpts := []maintenance.Option{
		maintenance.WithPrincipals(stack.Hub),
		maintenance.WithNotificationRetention(cfg.Maintenance.NotificationRetention),
		maintenance.WithPresenceStaleAfter(cfg.Maintenance.PresenceStaleAfter),
		maintenance.WithSchedules(
			cfg.Maintenance.NotificationSchedule,
			cfg.Maintenance.PresenceSchedule,
			cfg.Maintenance.CacheSchedule,
		),
	}

	switch {
	case stack.Redis != nil:
		stack.RateStore = middleware.NewRedisRateStore(stack.Redis)
	default:
		stack.RateStore = middleware.NewDatabaseRateStore(dbStore)
		cleanerOpts = append(cleanerOpts, maintenance.WithCache(dbStore))
	}

	stack.Cleaner = maintenance.NewCleaner(notifications, presence, cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	var routerOpts []api.RouterOption
	if stack.Redis != nil {
		routerOpts = append(routerOpts, api.WithHealthCheck(checks.Redis(stack.Redis.Client(), 0)))
	}

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, stack.Hub, stack.RateStore, routerOpts...)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, disconnects sockets and releases storage handles.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
				log.Warn("maintenance jobs still running at shutdown")
			}
		}
		s.Cleaner = nil
	}

	if s.Hub != nil {
		if err := s.Hub.Close(); err != nil {
			log.Warn("realtime hub shutdown", zap.Error(err))
		}
		s.Hub = nil
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
		s.Redis = nil
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		s.DB = nil
	}
}

func newBroker(cfg *app.Config, redisClient *cache.RedisClient) (realtime.Broker, error) {
	if !cfg.Realtime.UsesRedisBroker() {
		return realtime.NewLocalBroker(), nil
	}
	if redisClient == nil {
		return nil, fmt.Errorf("realtime.broker=redis requires a redis connection")
	}
	broker, err := realtime.NewRedisBroker(redisClient.Client(), cfg.Realtime.Channel)
	if err != nil {
		return nil, fmt.Errorf("initialise redis broker: %w", err)
	}
	return broker, nil
}

func brokerName(cfg *app.Config) string {
	if cfg.Realtime.UsesRedisBroker() {
		return "redis"
	}
	return "local"
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAll(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver:          strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:            strings.TrimSpace(cfg.Database.Path),
		DSN:             strings.TrimSpace(cfg.Database.DSN),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	var auth app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = cfg.Database.Postgres
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		auth = cfg.Database.MySQL
	default:
		// Unsupported drivers surface an error from database.Open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = auth.Password
	dbCfg.Options = auth.Options
	return dbCfg
}
