package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/foodbridge/pkg/logger"
)

const (
	defaultNotificationRetention = 30 * 24 * time.Hour
	defaultPresenceStaleAfter    = 2 * time.Minute
	defaultNotificationSpec      = "@daily"
	defaultPresenceSpec          = "@every 1m"
	defaultCacheSpec             = "@hourly"
)

// NotificationPurger deletes read notifications older than a cutoff.
type NotificationPurger interface {
	PurgeRead(ctx context.Context, cutoff time.Time) (int64, error)
}

// PresenceSweeper refreshes live users and clears stale online flags.
type PresenceSweeper interface {
	Heartbeat(ctx context.Context, userIDs []string) error
	SweepStale(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// PrincipalSource lists users holding live connections on this instance.
type PrincipalSource interface {
	ConnectedPrincipals() []string
}

// CachePurger removes expired cache rows.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: purging old read notifications, expiring stale
// presence flags and dropping expired cache entries.
type Cleaner struct {
	notifications NotificationPurger
	presence      PresenceSweeper
	principals    PrincipalSource
	cache         CachePurger

	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	retention  time.Duration
	staleAfter time.Duration

	notificationSchedule string
	presenceSchedule     string
	cacheSchedule        string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention cutoffs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithNotificationRetention adjusts how long read notifications are kept.
func WithNotificationRetention(retention time.Duration) Option {
	return func(cleaner *Cleaner) {
		if retention > 0 {
			cleaner.retention = retention
		}
	}
}

// WithPresenceStaleAfter adjusts how long an online flag survives without a heartbeat.
func WithPresenceStaleAfter(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.staleAfter = d
		}
	}
}

// WithPrincipals sets the source of locally connected users refreshed before each sweep.
func WithPrincipals(source PrincipalSource) Option {
	return func(cleaner *Cleaner) {
		cleaner.principals = source
	}
}

// WithCache enables expired cache entry removal.
func WithCache(purger CachePurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = purger
	}
}

// WithSchedules overrides the cron specifications. Empty values keep the defaults.
func WithSchedules(notifications, presence, cache string) Option {
	return func(cleaner *Cleaner) {
		if notifications != "" {
			cleaner.notificationSchedule = notifications
		}
		if presence != "" {
			cleaner.presenceSchedule = presence
		}
		if cache != "" {
			cleaner.cacheSchedule = cache
		}
	}
}

// NewCleaner constructs a Cleaner. Any nil dependency results in the corresponding job
// being skipped.
func NewCleaner(notifications NotificationPurger, presence PresenceSweeper, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		notifications:        notifications,
		presence:             presence,
		now:                  time.Now,
		retention:            defaultNotificationRetention,
		staleAfter:           defaultPresenceStaleAfter,
		notificationSchedule: defaultNotificationSpec,
		presenceSchedule:     defaultPresenceSpec,
		cacheSchedule:        defaultCacheSpec,
		log:                  logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.notifications != nil || c.presence != nil || c.cache != nil
}

// Start registers the maintenance jobs and launches the scheduler when at least one is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.notifications != nil {
		if _, err := c.cron.AddFunc(c.notificationSchedule, func() {
			if _, err := c.purgeNotifications(context.Background()); err != nil {
				c.log.Warn("notification purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.presence != nil {
		if _, err := c.cron.AddFunc(c.presenceSchedule, func() {
			if _, err := c.sweepPresence(context.Background()); err != nil {
				c.log.Warn("presence sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := c.cache.PurgeExpired(context.Background()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and combines their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.notifications != nil {
		removed, err := c.purgeNotifications(ctx)
		errs = multierr.Append(errs, err)
		if removed > 0 {
			c.log.Info("purged read notifications", zap.Int64("count", removed))
		}
	}

	if c.presence != nil {
		cleared, err := c.sweepPresence(ctx)
		errs = multierr.Append(errs, err)
		if cleared > 0 {
			c.log.Info("cleared stale presence", zap.Int64("count", cleared))
		}
	}

	if c.cache != nil {
		_, err := c.cache.PurgeExpired(ctx)
		errs = multierr.Append(errs, err)
	}

	return errs
}

func (c *Cleaner) purgeNotifications(ctx context.Context) (int64, error) {
	return c.notifications.PurgeRead(ctx, c.now().Add(-c.retention))
}

// sweepPresence refreshes locally connected users first so a multi-instance deployment
// only clears users no instance has heartbeated recently.
func (c *Cleaner) sweepPresence(ctx context.Context) (int64, error) {
	var errs error
	if c.principals != nil {
		errs = multierr.Append(errs, c.presence.Heartbeat(ctx, c.principals.ConnectedPrincipals()))
	}
	cleared, err := c.presence.SweepStale(ctx, c.staleAfter)
	return cleared, multierr.Append(errs, err)
}
