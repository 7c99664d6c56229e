package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/middleware"
	"github.com/charlesng35/foodbridge/internal/services"
	"github.com/charlesng35/foodbridge/pkg/errors"
	"github.com/charlesng35/foodbridge/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated user id or writes a 401 and returns false.
func currentUserID(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.GetString(middleware.CtxUserIDKey))
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

func currentRole(c *gin.Context) string {
	return c.GetString(middleware.CtxRoleKey)
}

func deliveryMeta(delivery services.Delivery) *response.Meta {
	if delivery == "" {
		delivery = services.DeliveryDeferred
	}
	return &response.Meta{Delivery: string(delivery)}
}

func pageMeta(limit, offset int, total int64) *response.Meta {
	return &response.Meta{Limit: limit, Offset: offset, Total: int(total)}
}
