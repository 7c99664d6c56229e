package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/handlers"
)

func registerAuthRoutes(api *gin.RouterGroup, handler *handlers.AuthHandler) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
	}
}

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler) {
	api.GET("/users/me", handler.Me)
	api.PATCH("/users/me", handler.UpdateMe)
}
