package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/handlers"
)

func registerChatRoutes(api *gin.RouterGroup, handler *handlers.ChatHandler) {
	group := api.Group("/chats")
	{
		group.POST("", handler.Open)
		group.GET("", handler.List)
		group.GET("/search", handler.Search)
		group.GET("/:id", handler.Get)
		group.GET("/:id/messages", handler.Messages)
		group.POST("/:id/messages", handler.Send)
		group.POST("/:id/read", handler.MarkRead)
	}
}
