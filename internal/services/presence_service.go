package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/pkg/logger"
)

// PresenceService keeps users' online flags in sync with their realtime connections. It
// satisfies realtime.PresenceHooks.
type PresenceService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewPresenceService constructs a PresenceService.
func NewPresenceService(db *gorm.DB) (*PresenceService, error) {
	if db == nil {
		return nil, errors.New("presence service: db is required")
	}
	return &PresenceService{db: db, now: time.Now, log: logger.WithModule("presence")}, nil
}

// Connected marks the user online.
func (s *PresenceService) Connected(ctx context.Context, userID string) {
	if err := s.set(ensureContext(ctx), userID, true); err != nil {
		s.log.Warn("failed to mark user online", zap.String("user_id", userID), zap.Error(err))
	}
}

// Disconnected marks the user offline.
func (s *PresenceService) Disconnected(ctx context.Context, userID string) {
	if err := s.set(ensureContext(ctx), userID, false); err != nil {
		s.log.Warn("failed to mark user offline", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *PresenceService) set(ctx context.Context, userID string, online bool) error {
	if userID == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumns(map[string]any{
			"is_online":      online,
			"last_active_at": utcNow(s.now),
		}).Error
}

// Heartbeat refreshes last_active_at for users with live local connections.
func (s *PresenceService) Heartbeat(ctx context.Context, userIDs []string) error {
	ids := normaliseIDs(userIDs)
	if len(ids) == 0 {
		return nil
	}
	if err := ensureContextDB(ctx, s.db).
		Model(&models.User{}).
		Where("id IN ?", ids).
		UpdateColumns(map[string]any{
			"is_online":      true,
			"last_active_at": utcNow(s.now),
		}).Error; err != nil {
		return fmt.Errorf("presence service: heartbeat: %w", err)
	}
	return nil
}

// SweepStale clears online flags that have not been refreshed within staleAfter.
func (s *PresenceService) SweepStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	if staleAfter <= 0 {
		return 0, nil
	}
	cutoff := utcNow(s.now).Add(-staleAfter)
	res := ensureContextDB(ctx, s.db).
		Model(&models.User{}).
		Where("is_online = ? AND (last_active_at IS NULL OR last_active_at < ?)", true, cutoff).
		UpdateColumn("is_online", false)
	if res.Error != nil {
		return 0, fmt.Errorf("presence service: sweep stale: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func ensureContextDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	return db.WithContext(ensureContext(ctx))
}
