package realtime

import "strings"

// Room kinds. User and pool rooms are private: a connection only reaches them through identity
// registration.
const (
	RoomKindUser = "user"
	RoomKindChat = "chat"
	RoomKindPost = "post"
	RoomKindPool = "pool"
)

// CharityPoolRoom receives events addressed to every charity.
const CharityPoolRoom = RoomKindPool + ":charity"

// UserRoom returns the private room of a user.
func UserRoom(userID string) string {
	return roomKey(RoomKindUser, userID)
}

// ChatRoom returns the room of a chat.
func ChatRoom(chatID string) string {
	return roomKey(RoomKindChat, chatID)
}

// PostRoom returns the room following activity on a food post.
func PostRoom(postID string) string {
	return roomKey(RoomKindPost, postID)
}

// ParseRoom splits a room key into its kind and id.
func ParseRoom(room string) (kind, id string, ok bool) {
	room = normalizeRoom(room)
	kind, id, found := strings.Cut(room, ":")
	if !found || kind == "" || id == "" {
		return "", "", false
	}
	switch kind {
	case RoomKindUser, RoomKindChat, RoomKindPost, RoomKindPool:
		return kind, id, true
	default:
		return "", "", false
	}
}

// IsPrivateRoom reports whether the room may only be joined through identity registration.
func IsPrivateRoom(room string) bool {
	kind, _, ok := ParseRoom(room)
	return ok && (kind == RoomKindUser || kind == RoomKindPool)
}

func roomKey(kind, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return kind + ":" + id
}

func normalizeRoom(room string) string {
	return strings.TrimSpace(room)
}
