package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/models"
)

type publishedEvent struct {
	Room  string
	Event string
	Data  any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishToRoom(_ context.Context, room, event string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Room: room, Event: event, Data: data})
	return nil
}

func (p *recordingPublisher) byEvent(event string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func seedUser(t *testing.T, db *gorm.DB, name, role string) *models.User {
	t.Helper()
	user := &models.User{
		Name:     name,
		Email:    name + "@foodbridge.test",
		Password: "not-a-hash",
		Role:     role,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedPost(t *testing.T, db *gorm.DB, owner *models.User, foodType string, expiresAt time.Time) *models.FoodPost {
	t.Helper()
	post := &models.FoodPost{
		OwnerID:   owner.ID,
		FoodType:  foodType,
		Quantity:  10,
		Unit:      "kg",
		ExpiresAt: expiresAt,
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var total int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&total).Error)
	return total
}
