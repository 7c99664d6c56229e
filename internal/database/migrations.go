package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
// Parents are listed before the tables that reference them.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.FoodPost{},
		&models.FoodRequest{},
		&models.Notification{},
		&models.NotificationRead{},
		&models.Chat{},
		&models.ChatParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.CacheEntry{},
	)
}
