package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/foodbridge/internal/handlers/testutil"
	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/services"
)

func listNotifications(t *testing.T, env *testutil.Env, token, query string) ([]services.NotificationDTO, int) {
	t.Helper()

	w := env.Request(http.MethodGet, "/api/notifications"+query, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	var items []services.NotificationDTO
	testutil.DecodeInto(t, resp.Data, &items)
	require.NotNil(t, resp.Meta)
	return items, resp.Meta.Total
}

func countByType(items []services.NotificationDTO, kind string) int {
	n := 0
	for _, item := range items {
		if item.Type == kind {
			n++
		}
	}
	return n
}

func TestNotificationsIncludeCharityPool(t *testing.T) {
	env := testutil.NewEnv(t)

	restaurant := env.Register("Pasta Place", models.RoleRestaurant)
	charity := env.Register("Warm Meals", models.RoleCharity)
	createPost(t, env, restaurant.AccessToken, "Pasta")

	items, total := listNotifications(t, env, charity.AccessToken, "")
	require.Equal(t, 2, total)
	require.Equal(t, 1, countByType(items, models.NotificationTypeWelcome))
	require.Equal(t, 1, countByType(items, models.NotificationTypePostCreated))

	items, _ = listNotifications(t, env, restaurant.AccessToken, "")
	require.Equal(t, 0, countByType(items, models.NotificationTypePostCreated))
}

func TestCharityPoolReadStateIsPerCharity(t *testing.T) {
	env := testutil.NewEnv(t)

	restaurant := env.Register("Taco Stand", models.RoleRestaurant)
	reader := env.Register("Open Table", models.RoleCharity)
	other := env.Register("Second Helping", models.RoleCharity)
	createPost(t, env, restaurant.AccessToken, "Tacos")

	unreadCount := func(token string) int64 {
		w := env.Request(http.MethodGet, "/api/notifications/unread-count", nil, token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body struct {
			Unread int64 `json:"unread"`
		}
		testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &body)
		return body.Unread
	}
	require.Equal(t, int64(2), unreadCount(reader.AccessToken))

	items, _ := listNotifications(t, env, reader.AccessToken, "")
	var pool services.NotificationDTO
	for _, item := range items {
		if item.Type == models.NotificationTypePostCreated {
			pool = item
		}
	}
	require.NotEmpty(t, pool.ID)

	w := env.Request(http.MethodPost, "/api/notifications/"+pool.ID+"/read", nil, reader.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var read services.NotificationDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &read)
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	require.Equal(t, int64(1), unreadCount(reader.AccessToken))
	require.Equal(t, int64(2), unreadCount(other.AccessToken))

	w = env.Request(http.MethodPost, "/api/notifications/"+pool.ID+"/read", nil, restaurant.AccessToken)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/notifications/read-all", nil, other.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Zero(t, unreadCount(other.AccessToken))
	_, total := listNotifications(t, env, other.AccessToken, "?unread=true")
	require.Zero(t, total)
}

func TestNotificationReadState(t *testing.T) {
	env := testutil.NewEnv(t)

	restaurant := env.Register("Salad Co", models.RoleRestaurant)
	charity := env.Register("Kind Hands", models.RoleCharity)

	post := createPost(t, env, restaurant.AccessToken, "Salad")
	w := env.Request(http.MethodPost, "/api/requests", map[string]string{"post_id": post.ID}, charity.AccessToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	items, total := listNotifications(t, env, restaurant.AccessToken, "?unread=true")
	require.Equal(t, 2, total)

	var requestNotification services.NotificationDTO
	for _, item := range items {
		if item.Type == models.NotificationTypeRequest {
			requestNotification = item
		}
	}
	require.NotEmpty(t, requestNotification.ID)

	// Another user cannot touch it.
	w = env.Request(http.MethodPost, "/api/notifications/"+requestNotification.ID+"/read", nil, charity.AccessToken)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/notifications/"+requestNotification.ID+"/read", nil, restaurant.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var read services.NotificationDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &read)
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	w = env.Request(http.MethodGet, "/api/notifications/unread-count", nil, restaurant.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var unread struct {
		Unread int64 `json:"unread"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &unread)
	require.Equal(t, int64(1), unread.Unread)

	w = env.Request(http.MethodPost, "/api/notifications/read-all", nil, restaurant.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	_, total = listNotifications(t, env, restaurant.AccessToken, "?unread=true")
	require.Equal(t, 0, total)

	// A request notification can still be decided after being read.
	w = env.Request(http.MethodPost, "/api/notifications/"+requestNotification.ID+"/reject", nil, restaurant.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var decision services.DecisionResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &decision)
	require.Equal(t, models.RequestStatusRejected, decision.Request.Status)
	require.Contains(t, decision.Notification.Message, "rejected")

	w = env.Request(http.MethodGet, "/api/requests?role=requester", nil, charity.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var requests []services.RequestDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &requests)
	require.Len(t, requests, 1)
	require.Equal(t, models.RequestStatusRejected, requests[0].Status)
}
