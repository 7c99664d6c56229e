package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler, requests *handlers.RequestHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/unread-count", handler.UnreadCount)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
		group.POST("/:id/accept", requests.AcceptNotification)
		group.POST("/:id/reject", requests.RejectNotification)
	}
}
