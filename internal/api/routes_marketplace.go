package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/handlers"
)

func registerPostRoutes(api *gin.RouterGroup, handler *handlers.PostHandler) {
	group := api.Group("/posts")
	{
		group.POST("", handler.Create)
		group.GET("", handler.List)
		group.GET("/:id", handler.Get)
		group.GET("/:id/activity", handler.Activity)
	}
}

func registerRequestRoutes(api *gin.RouterGroup, handler *handlers.RequestHandler) {
	group := api.Group("/requests")
	{
		group.POST("", handler.Create)
		group.GET("", handler.List)
		group.GET("/:id", handler.Get)
		group.POST("/:id/accept", handler.Accept)
		group.POST("/:id/reject", handler.Reject)
	}
}
