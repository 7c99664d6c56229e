package handlers

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/foodbridge/internal/auth"
	"github.com/charlesng35/foodbridge/internal/middleware"
	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/realtime"
	"github.com/charlesng35/foodbridge/internal/services"
	"github.com/charlesng35/foodbridge/pkg/errors"
	"github.com/charlesng35/foodbridge/pkg/response"
)

// RealtimeServices bundles the commands reachable from a socket.
type RealtimeServices struct {
	Users    *services.UserService
	Posts    *services.PostService
	Requests *services.RequestService
	Chats    *services.ChatService
}

// RealtimeHandler upgrades authenticated HTTP connections and translates socket frames into
// the same service commands the REST handlers use.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
	svc RealtimeServices
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService, svc RealtimeServices) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt, svc: svc}
}

// CommandResult is the ack result of a socket command that persisted something.
type CommandResult struct {
	Data     any               `json:"data"`
	Delivery services.Delivery `json:"delivery,omitempty"`
}

type roomResult struct {
	Room  string   `json:"room,omitempty"`
	Rooms []string `json:"rooms,omitempty"`
	Data  any      `json:"data,omitempty"`
}

// Stream validates the bearer token and hands the connection to the hub.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := middleware.BearerToken(c.Request)
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	principal := realtime.Principal{UserID: strings.TrimSpace(claims.UserID), Role: claims.Role}
	if principal.UserID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if h.svc.Users != nil {
		user, err := h.svc.Users.Find(requestContext(c), principal.UserID)
		if err != nil {
			if stderrors.Is(err, errors.ErrNotFound) {
				err = errors.ErrUnauthorized
			}
			response.Error(c, err)
			return
		}
		principal.Role = user.Role
	}

	h.hub.Serve(principal, h, c.Writer, c.Request)
}

// HandleCommand implements realtime.CommandHandler.
func (h *RealtimeHandler) HandleCommand(ctx context.Context, conn *realtime.Conn, frame realtime.ClientFrame) (any, error) {
	principal := conn.Principal()

	switch frame.NormalizedAction() {
	case realtime.ActionRegister:
		return h.register(conn, frame)
	case realtime.ActionJoinPost:
		return h.joinPost(ctx, conn, frame)
	case realtime.ActionJoinChat:
		return h.joinChat(ctx, conn, frame)
	case realtime.ActionRequestFood:
		if h.svc.Requests == nil {
			return nil, realtime.ErrUnknownAction
		}
		var payload createRequestPayload
		if err := frame.DecodeData(&payload); err != nil {
			return nil, err
		}
		result, delivery, err := h.svc.Requests.Create(ctx, payload.input(principal.UserID))
		if err != nil {
			return nil, err
		}
		return CommandResult{Data: result, Delivery: delivery}, nil
	case realtime.ActionSendMessage:
		if h.svc.Chats == nil {
			return nil, realtime.ErrUnknownAction
		}
		var payload struct {
			ChatID  string `json:"chat_id"`
			Content string `json:"content"`
		}
		if err := frame.DecodeData(&payload); err != nil {
			return nil, err
		}
		message, delivery, err := h.svc.Chats.SendMessage(ctx, services.SendMessageInput{
			ChatID:   payload.ChatID,
			SenderID: principal.UserID,
			Content:  payload.Content,
		})
		if err != nil {
			return nil, err
		}
		return CommandResult{Data: message, Delivery: delivery}, nil
	case realtime.ActionMarkRead:
		if h.svc.Chats == nil {
			return nil, realtime.ErrUnknownAction
		}
		chatID, err := frameID(frame, "chat_id", "chat")
		if err != nil {
			return nil, err
		}
		receipt, delivery, err := h.svc.Chats.MarkRead(ctx, chatID, principal.UserID)
		if err != nil {
			return nil, err
		}
		return CommandResult{Data: receipt, Delivery: delivery}, nil
	default:
		return nil, realtime.ErrUnknownAction
	}
}

// register binds the connection to the principal's own room. Charities also receive the
// charity pool.
func (h *RealtimeHandler) register(conn *realtime.Conn, frame realtime.ClientFrame) (any, error) {
	principal := conn.Principal()

	var payload struct {
		UserID string `json:"user_id"`
	}
	if len(frame.Data) > 0 {
		if err := frame.DecodeData(&payload); err != nil {
			return nil, err
		}
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = principal.UserID
	}
	if userID != principal.UserID {
		return nil, errors.ErrForbidden.WithMessage("Cannot register as another user")
	}

	rooms := []string{realtime.UserRoom(userID)}
	var extra []string
	if principal.Role == models.RoleCharity {
		extra = append(extra, realtime.CharityPoolRoom)
		rooms = append(rooms, realtime.CharityPoolRoom)
	}
	h.hub.RegisterIdentity(conn, userID, extra...)
	return roomResult{Rooms: rooms}, nil
}

func (h *RealtimeHandler) joinPost(ctx context.Context, conn *realtime.Conn, frame realtime.ClientFrame) (any, error) {
	if h.svc.Posts == nil {
		return nil, realtime.ErrUnknownAction
	}
	postID, err := frameID(frame, "post_id", "post")
	if err != nil {
		return nil, err
	}
	if _, err := h.svc.Posts.Get(ctx, postID); err != nil {
		return nil, err
	}
	activity, err := h.svc.Posts.Activity(ctx, postID)
	if err != nil {
		return nil, err
	}

	room := realtime.PostRoom(postID)
	h.hub.Join(conn, room)
	return roomResult{Room: room, Data: activity}, nil
}

func (h *RealtimeHandler) joinChat(ctx context.Context, conn *realtime.Conn, frame realtime.ClientFrame) (any, error) {
	if h.svc.Chats == nil {
		return nil, realtime.ErrUnknownAction
	}
	chatID, err := frameID(frame, "chat_id", "chat")
	if err != nil {
		return nil, err
	}
	if err := h.svc.Chats.EnsureParticipant(ctx, chatID, conn.Principal().UserID); err != nil {
		return nil, err
	}

	room := realtime.ChatRoom(chatID)
	h.hub.Join(conn, room)
	return roomResult{Room: room}, nil
}

// frameID reads an id from the payload field, falling back to a room key of the given kind.
func frameID(frame realtime.ClientFrame, field, kind string) (string, error) {
	if len(frame.Data) > 0 {
		var payload map[string]any
		if err := frame.DecodeData(&payload); err != nil {
			return "", err
		}
		if value, ok := payload[field].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}
	if roomKind, id, ok := realtime.ParseRoom(frame.Room); ok && roomKind == kind {
		return id, nil
	}
	return "", errors.NewBadRequest(field + " is required")
}
