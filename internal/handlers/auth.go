package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/foodbridge/internal/auth"
	"github.com/charlesng35/foodbridge/internal/services"
	"github.com/charlesng35/foodbridge/pkg/errors"
	"github.com/charlesng35/foodbridge/pkg/metrics"
	"github.com/charlesng35/foodbridge/pkg/response"
)

// AuthHandler exposes registration and login.
type AuthHandler struct {
	users *services.UserService
	jwt   *iauth.JWTService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users *services.UserService, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{users: users, jwt: jwt}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresIn   int              `json:"expires_in"`
	User        services.UserDTO `json:"user"`
}

// Register creates a restaurant or charity account and signs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var payload services.RegisterInput
	if !bindAndValidate(c, &payload) {
		return
	}

	user, err := h.users.Register(requestContext(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}

	tokens, err := h.issue(user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, tokens)
}

// Login validates credentials and returns an access token.
func (h *AuthHandler) Login(c *gin.Context) {
	var payload loginRequest
	if !bindAndValidate(c, &payload) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return
	}

	user, err := h.users.Authenticate(requestContext(c), strings.TrimSpace(payload.Email), payload.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	dto, err := h.users.Get(requestContext(c), user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	tokens, err := h.issue(dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	metrics.AuthAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, tokens)
}

func (h *AuthHandler) issue(user services.UserDTO) (TokenResponse, error) {
	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Role: user.Role})
	if err != nil {
		return TokenResponse{}, errors.ErrInternalServer.WithInternal(err)
	}
	return TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.jwt.AccessTokenTTL().Seconds()),
		User:        user,
	}, nil
}
