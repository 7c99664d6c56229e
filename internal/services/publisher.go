package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/foodbridge/pkg/logger"
)

// Delivery reports whether the realtime push for a committed command went out.
type Delivery string

const (
	// DeliveryPushed means every push was handed to the broker.
	DeliveryPushed Delivery = "pushed"
	// DeliveryDeferred means the record is persisted but at least one push failed; recipients
	// see it on their next fetch.
	DeliveryDeferred Delivery = "deferred"
)

// Publisher pushes an event to every connection in a room.
type Publisher interface {
	PublishToRoom(ctx context.Context, room, event string, data any) error
}

type push struct {
	room  string
	event string
	data  any
}

// fanout pushes events after commit. Publish failures never fail the command.
type fanout struct {
	publisher Publisher
	log       *zap.Logger
}

func newFanout(publisher Publisher, module string) fanout {
	return fanout{publisher: publisher, log: logger.WithModule(module)}
}

func (f fanout) send(ctx context.Context, pushes ...push) Delivery {
	if f.publisher == nil {
		return DeliveryDeferred
	}

	delivery := DeliveryPushed
	for _, p := range pushes {
		if p.room == "" {
			continue
		}
		if err := f.publisher.PublishToRoom(ctx, p.room, p.event, p.data); err != nil {
			delivery = DeliveryDeferred
			f.log.Warn("realtime publish failed",
				zap.String("room", p.room),
				zap.String("event", p.event),
				zap.Error(err))
		}
	}
	return delivery
}
