package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/foodbridge/pkg/logger"
)

func TestLoggerMiddlewarePassesThroughEveryStatusClass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, logger.Init("debug"))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(CtxUserIDKey, id)
		}
		c.Next()
	})
	r.Use(Logger())
	r.GET("/api/posts", func(c *gin.Context) { c.String(http.StatusOK, "posts") })
	r.POST("/api/requests", func(c *gin.Context) { c.Status(http.StatusConflict) })
	r.GET("/api/chats", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	cases := []struct {
		method string
		path   string
		user   string
		want   int
	}{
		{method: http.MethodGet, path: "/api/posts", want: http.StatusOK},
		{method: http.MethodPost, path: "/api/requests", user: "charity-1", want: http.StatusConflict},
		{method: http.MethodGet, path: "/api/chats", user: "restaurant-1", want: http.StatusInternalServerError},
		{method: http.MethodGet, path: "/api/missing", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.user != "" {
			req.Header.Set("X-Test-User", tc.user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, tc.want, w.Code, tc.path)
	}
}
