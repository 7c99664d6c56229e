package models

import (
	"sort"
	"strings"
	"time"
)

// Message statuses. Status only moves forward; the services write sent and read.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// Chat is a conversation between an unordered pair of users.
type Chat struct {
	BaseModel

	ParticipantKey string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"-"`
	LastMessageID  *string    `gorm:"type:uuid" json:"last_message_id"`
	LastMessageAt  *time.Time `gorm:"index" json:"last_message_at"`
	MessageSeq     int64      `gorm:"not null;default:0" json:"-"`

	Participants []ChatParticipant `gorm:"foreignKey:ChatID" json:"participants,omitempty"`
}

// ChatParticipant holds per-user chat state.
type ChatParticipant struct {
	ChatID      string     `gorm:"primaryKey;type:uuid" json:"chat_id"`
	UserID      string     `gorm:"primaryKey;type:uuid;index" json:"user_id"`
	UnreadCount int        `gorm:"not null;default:0" json:"unread_count"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Message is a chat message. Seq is strictly increasing within a chat.
type Message struct {
	BaseModel

	ChatID   string `gorm:"type:uuid;not null;uniqueIndex:idx_messages_chat_seq,priority:1" json:"chat_id"`
	SenderID string `gorm:"type:uuid;not null;index" json:"sender_id"`
	Content  string `gorm:"type:text;not null" json:"content"`
	Seq      int64  `gorm:"not null;uniqueIndex:idx_messages_chat_seq,priority:2" json:"seq"`
	Status   string `gorm:"type:varchar(16);not null;default:'sent';index" json:"status"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

// MessageRead is a read receipt. The read-set of a message is the set of its rows.
type MessageRead struct {
	MessageID string    `gorm:"primaryKey;type:uuid" json:"message_id"`
	UserID    string    `gorm:"primaryKey;type:uuid;index" json:"user_id"`
	ChatID    string    `gorm:"type:uuid;not null;index" json:"chat_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ChatParticipantKey returns the canonical key for an unordered pair of users.
func ChatParticipantKey(a, b string) string {
	ids := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}
