package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/monitoring"
	"github.com/charlesng35/foodbridge/pkg/response"
)

// Health runs the dependency probes. A down dependency answers 503; degraded ones still answer 200.
func Health(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := registry.Evaluate(requestContext(c))
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, response.Response{
			Success: report.Healthy(),
			Data:    report,
		})
	}
}
