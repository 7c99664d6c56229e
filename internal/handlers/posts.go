package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/services"
	"github.com/charlesng35/foodbridge/pkg/response"
)

// PostHandler exposes food post endpoints.
type PostHandler struct {
	posts *services.PostService
}

// NewPostHandler constructs a PostHandler.
func NewPostHandler(posts *services.PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

// Create publishes a food post for the authenticated restaurant.
func (h *PostHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var payload services.CreatePostInput
	if !bindAndValidate(c, &payload) {
		return
	}

	result, delivery, err := h.posts.Create(requestContext(c), userID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusCreated, result, deliveryMeta(delivery))
}

// List returns posts, optionally filtered by owner (`owner=me` for the caller) and activity.
func (h *PostHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	owner := strings.TrimSpace(c.Query("owner"))
	if owner == "me" {
		owner = userID
	}

	input := services.ListPostsInput{
		OwnerID:    owner,
		ActiveOnly: parseBoolQuery(c, "active"),
		Limit:      parseIntQuery(c, "limit", 25),
		Offset:     parseIntQuery(c, "offset", 0),
	}

	posts, total, err := h.posts.List(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, posts, pageMeta(input.Limit, input.Offset, total))
}

// Get returns a single post.
func (h *PostHandler) Get(c *gin.Context) {
	post, err := h.posts.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, post)
}

// Activity returns the request counters for a post.
func (h *PostHandler) Activity(c *gin.Context) {
	ctx := requestContext(c)
	id := strings.TrimSpace(c.Param("id"))
	if _, err := h.posts.Get(ctx, id); err != nil {
		response.Error(c, err)
		return
	}

	activity, err := h.posts.Activity(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, activity)
}
