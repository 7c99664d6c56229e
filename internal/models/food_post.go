package models

import (
	"time"

	"gorm.io/datatypes"
)

// FoodPost is a surplus food listing published by a restaurant.
type FoodPost struct {
	BaseModel

	OwnerID     string                      `gorm:"type:uuid;not null;index" json:"owner_id"`
	FoodType    string                      `gorm:"type:varchar(128);not null" json:"food_type"`
	Description string                      `gorm:"type:text" json:"description"`
	Quantity    float64                     `gorm:"not null" json:"quantity"`
	Unit        string                      `gorm:"type:varchar(32)" json:"unit"`
	ExpiresAt   time.Time                   `gorm:"index" json:"expires_at"`
	ImageURLs   datatypes.JSONSlice[string] `json:"image_urls"`
	Latitude    float64                     `json:"latitude"`
	Longitude   float64                     `json:"longitude"`
}

// Expired reports whether the post can no longer be requested at the given instant.
func (p *FoodPost) Expired(now time.Time) bool {
	return p != nil && !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
