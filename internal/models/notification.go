package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification types.
const (
	NotificationTypeRequest         = "request"
	NotificationTypeRequestAccepted = "request_accepted"
	NotificationTypeRequestRejected = "request_rejected"
	NotificationTypePostCreated     = "post_created"
	NotificationTypeWelcome         = "welcome"
)

// Notification audiences. Pool notifications carry an empty UserID.
const (
	AudienceUser    = "user"
	AudienceCharity = "charity"
)

// Notification represents an in-app notification. Only the read state changes after creation.
type Notification struct {
	BaseModel

	UserID      string         `gorm:"type:varchar(36);index" json:"user_id"`
	Audience    string         `gorm:"type:varchar(16);not null;default:'user';index" json:"audience"`
	Type        string         `gorm:"type:varchar(64);not null" json:"type"`
	Title       string         `gorm:"type:varchar(255);not null" json:"title"`
	Message     string         `gorm:"type:text" json:"message"`
	RequesterID string         `gorm:"type:varchar(36);index" json:"requester_id"`
	PostID      string         `gorm:"type:varchar(36);index" json:"post_id"`
	RequestID   string         `gorm:"type:varchar(36);index" json:"request_id"`
	Metadata    datatypes.JSON `json:"metadata"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}

// NotificationRead records that a user has read a pool notification. Pool rows are shared, so their
// own IsRead flag stays false.
type NotificationRead struct {
	NotificationID string    `gorm:"primaryKey;type:varchar(36)" json:"notification_id"`
	UserID         string    `gorm:"primaryKey;type:varchar(36);index" json:"user_id"`
	ReadAt         time.Time `gorm:"not null" json:"read_at"`
}
