package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/foodbridge/internal/models"
	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
)

// ListNotificationsInput filters a user's notification feed.
type ListNotificationsInput struct {
	UserID     string
	Role       string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationService reads notifications and manages their read state.
type NotificationService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db, now: time.Now}, nil
}

const (
	poolRow        = "(notifications.user_id = '' OR notifications.user_id IS NULL)"
	poolReadExists = "EXISTS (SELECT 1 FROM notification_reads nr WHERE nr.notification_id = notifications.id AND nr.user_id = ?)"
)

// audienceForRole maps a role to the pool audience it reads from.
func audienceForRole(role string) string {
	if role == models.RoleCharity {
		return models.AudienceCharity
	}
	return ""
}

// visibleTo limits a query to the user's own notifications plus the pool for their role.
func visibleTo(db *gorm.DB, userID, role string) *gorm.DB {
	if audience := audienceForRole(strings.TrimSpace(role)); audience != "" {
		return db.Where("((notifications.user_id = ? AND notifications.audience = ?) OR (notifications.audience = ? AND "+poolRow+"))",
			userID, models.AudienceUser, audience)
	}
	return db.Where("notifications.user_id = ? AND notifications.audience = ?", userID, models.AudienceUser)
}

// unreadBy keeps rows the user has not read. Pool rows are read through a per-user receipt.
func unreadBy(db *gorm.DB, userID string) *gorm.DB {
	return db.Where("((NOT "+poolRow+" AND notifications.is_read = ?) OR ("+poolRow+" AND NOT "+poolReadExists+"))",
		false, userID)
}

func isPoolNotification(n *models.Notification) bool {
	return strings.TrimSpace(n.UserID) == ""
}

// roleOf returns the stored role for the user, or "" when the user is unknown.
func (s *NotificationService) roleOf(ctx context.Context, userID string) (string, error) {
	var roles []string
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Limit(1).Pluck("role", &roles).Error; err != nil {
		return "", fmt.Errorf("notification service: load role: %w", err)
	}
	if len(roles) == 0 {
		return "", nil
	}
	return roles[0], nil
}

// applyPoolReceipts overlays the user's receipts onto pool rows.
func applyPoolReceipts(ctx context.Context, db *gorm.DB, userID string, rows []models.Notification) error {
	var poolIDs []string
	for i := range rows {
		if isPoolNotification(&rows[i]) {
			poolIDs = append(poolIDs, rows[i].ID)
		}
	}
	if len(poolIDs) == 0 {
		return nil
	}

	var receipts []models.NotificationRead
	if err := db.WithContext(ctx).
		Where("user_id = ? AND notification_id IN ?", userID, poolIDs).
		Find(&receipts).Error; err != nil {
		return fmt.Errorf("load pool receipts: %w", err)
	}
	readAt := make(map[string]time.Time, len(receipts))
	for _, r := range receipts {
		readAt[r.NotificationID] = r.ReadAt
	}
	for i := range rows {
		if at, ok := readAt[rows[i].ID]; ok && isPoolNotification(&rows[i]) {
			stamp := at.UTC()
			rows[i].IsRead = true
			rows[i].ReadAt = &stamp
		}
	}
	return nil
}

// List returns notifications addressed to the user plus pool notifications for the user's role,
// newest first.
func (s *NotificationService) List(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, int64, error) {
	ctx = ensureContext(ctx)
	limit, offset := pageBounds(input.Limit, input.Offset)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, 0, apperrors.ErrUnauthorized
	}

	query := visibleTo(s.db.WithContext(ctx).Model(&models.Notification{}), userID, input.Role)
	if input.UnreadOnly {
		query = unreadBy(query, userID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("notification service: count notifications: %w", err)
	}

	var rows []models.Notification
	if err := query.Order("created_at DESC").Order("id").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("notification service: list notifications: %w", err)
	}
	if err := applyPoolReceipts(ctx, s.db, userID, rows); err != nil {
		return nil, 0, fmt.Errorf("notification service: %w", err)
	}

	dtos, err := populateNotifications(ctx, s.db, rows)
	if err != nil {
		return nil, 0, fmt.Errorf("notification service: %w", err)
	}
	return dtos, total, nil
}

// MarkRead marks one notification visible to the user as read. Pool notifications get a receipt
// for this user only.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (NotificationDTO, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	userID = strings.TrimSpace(userID)
	role, err := s.roleOf(ctx, userID)
	if err != nil {
		return NotificationDTO{}, err
	}

	var notification models.Notification
	if err := visibleTo(s.db.WithContext(ctx), userID, role).
		Where("notifications.id = ?", id).
		First(&notification).Error; err != nil {
		if isNotFound(err) {
			return NotificationDTO{}, apperrors.NewNotFound("notification")
		}
		return NotificationDTO{}, fmt.Errorf("notification service: load notification: %w", err)
	}

	now := utcNow(s.now)
	switch {
	case isPoolNotification(&notification):
		receipt := models.NotificationRead{NotificationID: notification.ID, UserID: userID, ReadAt: now}
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&receipt).Error; err != nil {
			return NotificationDTO{}, fmt.Errorf("notification service: mark read: %w", err)
		}
	case !notification.IsRead:
		if err := s.db.WithContext(ctx).
			Model(&models.Notification{}).
			Where("id = ? AND is_read = ?", notification.ID, false).
			Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
			return NotificationDTO{}, fmt.Errorf("notification service: mark read: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).First(&notification, "id = ?", notification.ID).Error; err != nil {
		return NotificationDTO{}, fmt.Errorf("notification service: reload notification: %w", err)
	}
	rows := []models.Notification{notification}
	if err := applyPoolReceipts(ctx, s.db, userID, rows); err != nil {
		return NotificationDTO{}, fmt.Errorf("notification service: %w", err)
	}
	dtos, err := populateNotifications(ctx, s.db, rows)
	if err != nil {
		return NotificationDTO{}, fmt.Errorf("notification service: %w", err)
	}
	return dtos[0], nil
}

// MarkAllRead marks every unread notification visible to the user as read and returns how many
// changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.ErrUnauthorized
	}
	role, err := s.roleOf(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := utcNow(s.now)
	var updated int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Notification{}).
			Where("user_id = ? AND audience = ? AND is_read = ?", userID, models.AudienceUser, false).
			Updates(map[string]any{"is_read": true, "read_at": now})
		if res.Error != nil {
			return fmt.Errorf("mark own read: %w", res.Error)
		}
		updated = res.RowsAffected

		audience := audienceForRole(role)
		if audience == "" {
			return nil
		}

		var poolIDs []string
		if err := tx.Model(&models.Notification{}).
			Where("notifications.audience = ? AND "+poolRow, audience).
			Where("NOT "+poolReadExists, userID).
			Pluck("id", &poolIDs).Error; err != nil {
			return fmt.Errorf("load unread pool: %w", err)
		}
		if len(poolIDs) == 0 {
			return nil
		}

		receipts := make([]models.NotificationRead, 0, len(poolIDs))
		for _, id := range poolIDs {
			receipts = append(receipts, models.NotificationRead{NotificationID: id, UserID: userID, ReadAt: now})
		}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&receipts, receiptBatchSize)
		if res.Error != nil {
			return fmt.Errorf("insert pool receipts: %w", res.Error)
		}
		updated += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", err)
	}
	return updated, nil
}

// UnreadCount counts unread notifications visible to the user, pool included.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	role, err := s.roleOf(ctx, userID)
	if err != nil {
		return 0, err
	}

	var count int64
	query := visibleTo(s.db.WithContext(ctx).Model(&models.Notification{}), userID, role)
	if err := unreadBy(query, userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: unread count: %w", err)
	}
	return count, nil
}

// PurgeRead deletes notifications read before the cutoff and pool notifications created before it,
// together with receipts left without a notification.
func (s *NotificationService) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	cutoff = cutoff.UTC()

	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("NOT "+poolRow+" AND notifications.is_read = ? AND notifications.read_at IS NOT NULL AND notifications.read_at < ?", true, cutoff).
			Delete(&models.Notification{})
		if res.Error != nil {
			return fmt.Errorf("delete read: %w", res.Error)
		}
		purged = res.RowsAffected

		res = tx.Where(poolRow+" AND notifications.created_at < ?", cutoff).Delete(&models.Notification{})
		if res.Error != nil {
			return fmt.Errorf("delete pool: %w", res.Error)
		}
		purged += res.RowsAffected

		if err := tx.Where("NOT EXISTS (SELECT 1 FROM notifications n WHERE n.id = notification_reads.notification_id)").
			Delete(&models.NotificationRead{}).Error; err != nil {
			return fmt.Errorf("delete orphaned receipts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("notification service: purge read: %w", err)
	}
	return purged, nil
}
