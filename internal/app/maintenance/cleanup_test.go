package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/cache"
	testutil "github.com/charlesng35/foodbridge/internal/database/testutil"
	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/services"
)

type staticPrincipals []string

func (s staticPrincipals) ConnectedPrincipals() []string { return s }

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Now().UTC()

	notifications, err := services.NewNotificationService(db)
	require.NoError(t, err)
	presence, err := services.NewPresenceService(db)
	require.NoError(t, err)

	live := seedUser(t, db, "live", true, now.Add(-time.Hour))
	stale := seedUser(t, db, "stale", true, now.Add(-time.Hour))
	idle := seedUser(t, db, "idle", false, now.Add(-time.Hour))

	oldRead := now.Add(-48 * time.Hour)
	recentRead := now.Add(-time.Hour)
	seedNotification(t, db, live.ID, "old read", &oldRead)
	seedNotification(t, db, live.ID, "recent read", &recentRead)
	seedNotification(t, db, live.ID, "unread", nil)

	require.NoError(t, db.Create(&models.CacheEntry{Key: "expired", Value: []byte("1"), ExpiresAt: now.Add(-time.Minute)}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{Key: "fresh", Value: []byte("1"), ExpiresAt: now.Add(time.Hour)}).Error)

	c := NewCleaner(notifications, presence,
		WithNow(func() time.Time { return now }),
		WithNotificationRetention(24*time.Hour),
		WithPresenceStaleAfter(5*time.Minute),
		WithPrincipals(staticPrincipals{live.ID}),
		WithCache(cache.NewDatabaseStore(db)),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, c.RunOnce(context.Background()))

	var titles []string
	require.NoError(t, db.Model(&models.Notification{}).Order("title").Pluck("title", &titles).Error)
	require.Equal(t, []string{"recent read", "unread"}, titles)

	require.True(t, onlineFlag(t, db, live.ID))
	require.False(t, onlineFlag(t, db, stale.ID))
	require.False(t, onlineFlag(t, db, idle.ID))

	var keys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Pluck("key", &keys).Error)
	require.Equal(t, []string{"fresh"}, keys)
}

type failingPurger struct{}

func (failingPurger) PurgeRead(context.Context, time.Time) (int64, error) {
	return 0, errors.New("purge failed")
}

func (failingPurger) PurgeExpired(context.Context) (int64, error) {
	return 0, errors.New("cache failed")
}

func TestCleanerRunOnceCombinesErrors(t *testing.T) {
	c := NewCleaner(failingPurger{}, nil, WithCache(failingPurger{}))

	err := c.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "purge failed")
	require.Contains(t, err.Error(), "cache failed")
}

func TestCleanerStartWithoutJobs(t *testing.T) {
	c := NewCleaner(nil, nil)
	require.NoError(t, c.Start())
	<-c.Stop().Done()
}

func TestCleanerStartRejectsInvalidSchedule(t *testing.T) {
	c := NewCleaner(failingPurger{}, nil, WithSchedules("not a schedule", "", ""))
	require.Error(t, c.Start())
}

func seedUser(t *testing.T, db *gorm.DB, name string, online bool, lastActive time.Time) *models.User {
	t.Helper()

	user := &models.User{
		Name:         name,
		Email:        name + "@foodbridge.test",
		Password:     "hash",
		Role:         models.RoleCharity,
		LastActiveAt: &lastActive,
	}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Model(user).UpdateColumn("is_online", online).Error)
	return user
}

func seedNotification(t *testing.T, db *gorm.DB, userID, title string, readAt *time.Time) {
	t.Helper()

	notification := &models.Notification{
		UserID:   userID,
		Audience: models.AudienceUser,
		Type:     models.NotificationTypeWelcome,
		Title:    title,
		IsRead:   readAt != nil,
		ReadAt:   readAt,
	}
	require.NoError(t, db.Create(notification).Error)
}

func onlineFlag(t *testing.T, db *gorm.DB, id string) bool {
	t.Helper()

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", id).Error)
	return user.IsOnline
}
