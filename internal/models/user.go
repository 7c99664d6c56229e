package models

import "time"

// User roles.
const (
	RoleAdmin      = "admin"
	RoleRestaurant = "restaurant"
	RoleCharity    = "charity"
)

// User is a marketplace account. Users are never hard-deleted; chats and requests keep
// referring to them.
type User struct {
	BaseModel

	Name     string `gorm:"type:varchar(255);not null" json:"name"`
	Email    string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`
	Role     string `gorm:"type:varchar(32);not null;index" json:"role"`

	Phone     string `gorm:"type:varchar(64)" json:"phone"`
	Address   string `gorm:"type:text" json:"address"`
	AvatarURL string `gorm:"type:text" json:"avatar_url"`

	// Presence is written only by the realtime connection hooks and the maintenance sweeper.
	IsOnline     bool       `gorm:"default:false;index" json:"is_online"`
	LastActiveAt *time.Time `json:"last_active_at"`
}

// IsCharity reports whether the user may request food.
func (u *User) IsCharity() bool {
	return u != nil && u.Role == RoleCharity
}

// IsRestaurant reports whether the user may publish food posts.
func (u *User) IsRestaurant() bool {
	return u != nil && u.Role == RoleRestaurant
}
