package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
)

// Client actions.
const (
	ActionJoinPost    = "join_post"
	ActionJoinChat    = "join_chat"
	ActionLeave       = "leave"
	ActionRegister    = "register"
	ActionRequestFood = "request_food"
	ActionSendMessage = "send_message"
	ActionMarkRead    = "mark_read"
	ActionPing        = "ping"
)

// Server events.
const (
	EventRequestCreated = "request.created"
	EventRequestDecided = "request.decided"
	EventPostCreated    = "post.created"
	EventPostActivity   = "post.activity"
	EventMessageCreated = "message.created"
	EventMessageRead    = "message.read"
	EventPong           = "pong"
	EventAck            = "ack"
)

// Message is a server to client frame.
type Message struct {
	Room  string         `json:"room"`
	Event string         `json:"event"`
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// ClientFrame is a client to server command.
type ClientFrame struct {
	Action string          `json:"action"`
	Ref    string          `json:"ref,omitempty"`
	Room   string          `json:"room,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Ack answers exactly one client command.
type Ack struct {
	Ref    string    `json:"ref"`
	Action string    `json:"action"`
	OK     bool      `json:"ok"`
	Error  *AckError `json:"error,omitempty"`
	Result any       `json:"result,omitempty"`
}

// AckError mirrors the REST error block.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Partial bool   `json:"partial"`
}

var errEmptyPayload = apperrors.NewBadRequest("Command payload is required")

// DecodeData unmarshals the frame payload into dst.
func (f ClientFrame) DecodeData(dst any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return errEmptyPayload
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		return apperrors.NewBadRequest("Invalid command payload").WithInternal(err)
	}
	return nil
}

// NormalizedAction returns the lower-cased trimmed action name.
func (f ClientFrame) NormalizedAction() string {
	return strings.ToLower(strings.TrimSpace(f.Action))
}

func newAck(frame ClientFrame, result any, err error) Ack {
	ack := Ack{Ref: frame.Ref, Action: frame.NormalizedAction(), OK: err == nil, Result: result}
	if err != nil {
		appErr := apperrors.FromError(err)
		ack.Result = nil
		ack.Error = &AckError{Code: appErr.Code, Message: appErr.Message, Partial: appErr.Partial}
	}
	return ack
}

func decodeFrame(payload []byte) (ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return ClientFrame{}, apperrors.NewBadRequest("Invalid frame").WithInternal(err)
	}
	if frame.NormalizedAction() == "" {
		return frame, apperrors.NewBadRequest("Frame action is required")
	}
	return frame, nil
}

// IsUnknownAction reports whether err was produced for an unsupported action.
func IsUnknownAction(err error) bool {
	return errors.Is(err, ErrUnknownAction)
}

// ErrUnknownAction is returned by command handlers for actions they do not implement.
var ErrUnknownAction = apperrors.New("UNKNOWN_ACTION", "Unsupported action", http.StatusBadRequest)
