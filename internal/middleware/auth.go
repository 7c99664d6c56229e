package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/foodbridge/internal/auth"
	"github.com/charlesng35/foodbridge/pkg/errors"
	"github.com/charlesng35/foodbridge/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
	CtxRoleKey   = "userRole"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxRoleKey, claims.Role)

		c.Next()
	}
}

// BearerToken extracts an access token from the Authorization header or, for websocket
// handshakes that cannot set headers, the token / access_token query parameters.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	authz := r.Header.Get("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	query := r.URL.Query()
	if token := strings.TrimSpace(query.Get("token")); token != "" {
		return token
	}
	return strings.TrimSpace(query.Get("access_token"))
}
