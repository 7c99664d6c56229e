package response

import (
	"net/http"

	appErrors "github.com/charlesng35/foodbridge/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Delivery values reported in Meta.Delivery after a command that pushes realtime events.
const (
	DeliveryPushed   = "pushed"
	DeliveryDeferred = "deferred"
)

// Response defines the base API payload. Message is always populated so clients can
// surface a human readable status without inspecting the error block.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Partial bool   `json:"partial"`
}

// Meta describes pagination and delivery metadata.
type Meta struct {
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	Total    int    `json:"total,omitempty"`
	Delivery string `json:"delivery,omitempty"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// SuccessWithMeta writes a JSON success response including metadata.
func SuccessWithMeta(c *gin.Context, statusCode int, data interface{}, meta *Meta) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: http.StatusText(statusCode),
		Data:    data,
		Meta:    meta,
	})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Success: false,
		Message: appErr.Message,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
			Partial: appErr.Partial,
		},
	})
}
