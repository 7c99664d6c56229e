package models

import "time"

// Request statuses. Accepted and rejected are terminal.
const (
	RequestStatusPending  = "pending"
	RequestStatusAccepted = "accepted"
	RequestStatusRejected = "rejected"
)

// FoodRequest records a charity asking for a food post. A requester can hold at most one
// request per post.
type FoodRequest struct {
	BaseModel

	PostID      string     `gorm:"type:uuid;not null;uniqueIndex:idx_food_requests_post_requester,priority:1" json:"post_id"`
	RequesterID string     `gorm:"type:uuid;not null;uniqueIndex:idx_food_requests_post_requester,priority:2;index" json:"requester_id"`
	ReceiverID  string     `gorm:"type:uuid;not null;index" json:"receiver_id"`
	Status      string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Message     string     `gorm:"type:text" json:"message"`
	DecidedAt   *time.Time `json:"decided_at"`
}

// IsTerminal reports whether the request has left the pending state.
func (r *FoodRequest) IsTerminal() bool {
	return r != nil && r.Status != RequestStatusPending
}
