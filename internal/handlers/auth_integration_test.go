package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/foodbridge/internal/handlers/testutil"
	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/services"
)

func TestRegisterLoginAndProfile(t *testing.T) {
	env := testutil.NewEnv(t)

	registered := env.Register("Sunrise Bakery", models.RoleRestaurant)
	require.Equal(t, "Bearer", registered.TokenType)
	require.Equal(t, int(time.Hour.Seconds()), registered.ExpiresIn)

	w := env.Login("sunrise.bakery@foodbridge.test", "Password123!")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login testutil.AuthResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &login)
	require.Equal(t, registered.User.ID, login.User.ID)

	w = env.Request(http.MethodGet, "/api/users/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me services.UserDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &me)
	require.Equal(t, "Sunrise Bakery", me.Name)
	require.Equal(t, models.RoleRestaurant, me.Role)

	w = env.Request(http.MethodPatch, "/api/users/me", map[string]string{"phone": "+1 555 0100"}, login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &me)
	require.Equal(t, "+1 555 0100", me.Phone)
	require.Equal(t, "Sunrise Bakery", me.Name)

	w = env.Request(http.MethodPatch, "/api/users/me", map[string]string{"name": "   "}, login.AccessToken)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestRegisterRejectsInvalidPayloads(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("Taken Name", models.RoleCharity)

	cases := []struct {
		name    string
		payload map[string]string
		status  int
		code    string
	}{
		{
			name:    "duplicate email",
			payload: map[string]string{"name": "Other", "email": "taken.name@foodbridge.test", "password": "Password123!", "role": "charity"},
			status:  http.StatusConflict,
			code:    "EMAIL_TAKEN",
		},
		{
			name:    "admin role",
			payload: map[string]string{"name": "Root", "email": "root@foodbridge.test", "password": "Password123!", "role": "admin"},
			status:  http.StatusBadRequest,
			code:    "BAD_REQUEST",
		},
		{
			name:    "short password",
			payload: map[string]string{"name": "Short", "email": "short@foodbridge.test", "password": "abc", "role": "charity"},
			status:  http.StatusBadRequest,
			code:    "BAD_REQUEST",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.Request(http.MethodPost, "/api/auth/register", tc.payload, "")
			require.Equal(t, tc.status, w.Code, w.Body.String())
			resp := testutil.DecodeResponse(t, w)
			require.False(t, resp.Success)
			require.Equal(t, tc.code, resp.Error.Code)
			require.False(t, resp.Error.Partial)
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("Careful Charity", models.RoleCharity)

	w := env.Login("careful.charity@foodbridge.test", "wrong-password")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Login("nobody@foodbridge.test", "Password123!")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodGet, "/api/users/me", nil, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGlobalRateLimit(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateLimit(2, time.Minute))

	for i := 0; i < 2; i++ {
		w := env.Request(http.MethodGet, "/health", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", testutil.DecodeResponse(t, w).Error.Code)
}
