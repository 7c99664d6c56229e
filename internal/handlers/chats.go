package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/foodbridge/internal/services"
	"github.com/charlesng35/foodbridge/pkg/errors"
	"github.com/charlesng35/foodbridge/pkg/response"
)

// ChatHandler exposes chats and messages over REST.
type ChatHandler struct {
	chats *services.ChatService
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(chats *services.ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

type openChatPayload struct {
	PeerID string `json:"peer_id" validate:"required,notblank"`
}

type sendMessagePayload struct {
	Content string `json:"content" validate:"required"`
}

// Open returns the chat between the caller and a peer, creating it on first use.
func (h *ChatHandler) Open(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var payload openChatPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	chat, err := h.chats.Open(requestContext(c), userID, payload.PeerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, chat)
}

// List returns the caller's chats ordered by last activity.
func (h *ChatHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	input := services.ListChatsInput{
		Query:  c.Query("q"),
		Limit:  parseIntQuery(c, "limit", 25),
		Offset: parseIntQuery(c, "offset", 0),
	}
	chats, total, err := h.chats.List(requestContext(c), userID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, chats, pageMeta(input.Limit, input.Offset, total))
}

// Search filters the caller's chats by the peer's name.
func (h *ChatHandler) Search(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		response.Error(c, errors.NewBadRequest("q is required"))
		return
	}

	limit := parseIntQuery(c, "limit", 25)
	offset := parseIntQuery(c, "offset", 0)
	chats, total, err := h.chats.Search(requestContext(c), userID, query, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, chats, pageMeta(limit, offset, total))
}

// Get returns one chat the caller participates in.
func (h *ChatHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	chat, err := h.chats.Get(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, chat)
}

// Messages lists a page of messages in send order. `before` pages backwards by seq.
func (h *ChatHandler) Messages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	messages, err := h.chats.ListMessages(requestContext(c), services.ListMessagesInput{
		ChatID:    c.Param("id"),
		UserID:    userID,
		BeforeSeq: int64(parseIntQuery(c, "before", 0)),
		Limit:     parseIntQuery(c, "limit", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, messages)
}

// Send posts a message to the chat.
func (h *ChatHandler) Send(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var payload sendMessagePayload
	if !bindAndValidate(c, &payload) {
		return
	}

	message, delivery, err := h.chats.SendMessage(requestContext(c), services.SendMessageInput{
		ChatID:   c.Param("id"),
		SenderID: userID,
		Content:  payload.Content,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusCreated, message, deliveryMeta(delivery))
}

// MarkRead marks every message in the chat read for the caller.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	receipt, delivery, err := h.chats.MarkRead(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, receipt, deliveryMeta(delivery))
}
