package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/services"
	"github.com/charlesng35/foodbridge/pkg/response"
)

// RequestHandler exposes the food request lifecycle over REST.
type RequestHandler struct {
	requests *services.RequestService
}

// NewRequestHandler constructs a RequestHandler.
func NewRequestHandler(requests *services.RequestService) *RequestHandler {
	return &RequestHandler{requests: requests}
}

type createRequestPayload struct {
	PostID     string `json:"post_id" validate:"required,notblank"`
	ReceiverID string `json:"receiver_id"`
	Message    string `json:"message" validate:"omitempty,max=1000"`
}

func (p createRequestPayload) input(requesterID string) services.CreateRequestInput {
	return services.CreateRequestInput{
		PostID:      p.PostID,
		RequesterID: requesterID,
		ReceiverID:  p.ReceiverID,
		Message:     p.Message,
	}
}

// Create requests a post on behalf of the authenticated charity.
func (h *RequestHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var payload createRequestPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	result, delivery, err := h.requests.Create(requestContext(c), payload.input(userID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusCreated, result, deliveryMeta(delivery))
}

// List returns requests the caller sent (`role=requester`) or received (`role=receiver`).
func (h *RequestHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	input := services.ListRequestsInput{
		UserID: userID,
		Role:   c.Query("role"),
		Status: c.Query("status"),
		PostID: c.Query("post_id"),
		Limit:  parseIntQuery(c, "limit", 25),
		Offset: parseIntQuery(c, "offset", 0),
	}

	items, total, err := h.requests.List(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, pageMeta(input.Limit, input.Offset, total))
}

// Get returns one request visible to the caller.
func (h *RequestHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	item, err := h.requests.Get(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}

// Accept accepts a request addressed by request id.
func (h *RequestHandler) Accept(c *gin.Context) {
	h.decide(c, models.RequestStatusAccepted, false)
}

// Reject rejects a request addressed by request id.
func (h *RequestHandler) Reject(c *gin.Context) {
	h.decide(c, models.RequestStatusRejected, false)
}

// AcceptNotification accepts the request a `request` notification points at.
func (h *RequestHandler) AcceptNotification(c *gin.Context) {
	h.decide(c, models.RequestStatusAccepted, true)
}

// RejectNotification rejects the request a `request` notification points at.
func (h *RequestHandler) RejectNotification(c *gin.Context) {
	h.decide(c, models.RequestStatusRejected, true)
}

func (h *RequestHandler) decide(c *gin.Context, decision string, byNotification bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	input := services.DecideRequestInput{Decision: decision, ActorID: userID}
	id := strings.TrimSpace(c.Param("id"))
	if byNotification {
		input.NotificationID = id
	} else {
		input.RequestID = id
	}

	result, delivery, err := h.requests.Decide(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, result, deliveryMeta(delivery))
}
