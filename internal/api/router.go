package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/app"
	iauth "github.com/charlesng35/foodbridge/internal/auth"
	"github.com/charlesng35/foodbridge/internal/handlers"
	"github.com/charlesng35/foodbridge/internal/middleware"
	"github.com/charlesng35/foodbridge/internal/monitoring"
	"github.com/charlesng35/foodbridge/internal/monitoring/checks"
	"github.com/charlesng35/foodbridge/internal/realtime"
	"github.com/charlesng35/foodbridge/internal/services"
)

// RouterOption customises NewRouter.
type RouterOption func(*routerOptions)

type routerOptions struct {
	probes []monitoring.Check
}

// WithHealthCheck adds a dependency probe to the health endpoint.
func WithHealthCheck(check monitoring.Check) RouterOption {
	return func(o *routerOptions) {
		o.probes = append(o.probes, check)
	}
}

// NewRouter builds the Gin engine, wires middleware and registers every route. A nil hub
// disables the websocket endpoint and every command reports deferred delivery.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, hub *realtime.Hub, rateStore middleware.RateStore, opts ...RouterOption) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	options := routerOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var (
		publisher services.Publisher
		observer  checks.RealtimeObserver
	)
	if hub != nil {
		publisher = hub
		observer = hub
	}

	users, err := services.NewUserService(db, services.WithBcryptCost(cfg.Auth.Password.BcryptCost))
	if err != nil {
		return nil, err
	}
	posts, err := services.NewPostService(db, publisher)
	if err != nil {
		return nil, err
	}
	requests, err := services.NewRequestService(db, publisher,
		services.WithAutoRejectSiblings(cfg.Features.Requests.AutoRejectSiblings))
	if err != nil {
		return nil, err
	}
	chats, err := services.NewChatService(db, publisher)
	if err != nil {
		return nil, err
	}
	notifications, err := services.NewNotificationService(db)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins...))
	if limit := cfg.Server.RateLimit; limit.Requests > 0 && limit.Window > 0 {
		r.Use(middleware.RateLimit(rateStore, limit.Requests, limit.Window))
	}

	health := monitoring.NewRegistry(checks.Database(db, 0), checks.Realtime(observer))
	for _, probe := range options.probes {
		health.Register(probe)
	}
	registerHealthRoutes(r, health, cfg)
	registerMetricsRoutes(r, cfg)

	api := r.Group("/api")
	registerAuthRoutes(api, handlers.NewAuthHandler(users, jwt))

	protected := api.Group("")
	protected.Use(middleware.Auth(jwt))

	registerUserRoutes(protected, handlers.NewUserHandler(users))
	registerPostRoutes(protected, handlers.NewPostHandler(posts))

	requestHandler := handlers.NewRequestHandler(requests)
	registerRequestRoutes(protected, requestHandler)
	registerChatRoutes(protected, handlers.NewChatHandler(chats))
	registerNotificationRoutes(protected, handlers.NewNotificationHandler(notifications), requestHandler)

	if hub != nil {
		realtimeHandler := handlers.NewRealtimeHandler(hub, jwt, handlers.RealtimeServices{
			Users:    users,
			Posts:    posts,
			Requests: requests,
			Chats:    chats,
		})
		r.GET("/ws", realtimeHandler.Stream)
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
