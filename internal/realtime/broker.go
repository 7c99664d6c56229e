package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/charlesng35/foodbridge/pkg/logger"
)

// DeliverFunc hands a published message to the local members of its room.
type DeliverFunc func(Message)

// Broker carries room messages to every server instance.
type Broker interface {
	Publish(ctx context.Context, message Message) error
	// Subscribe starts delivering published messages; it returns once the subscription is live.
	Subscribe(ctx context.Context, deliver DeliverFunc) error
	Close() error
}

// LocalBroker delivers in-process. It is the single-instance default.
type LocalBroker struct {
	mu      sync.RWMutex
	deliver DeliverFunc
}

// NewLocalBroker constructs an in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

// Publish delivers synchronously, preserving publish order per caller.
func (b *LocalBroker) Publish(_ context.Context, message Message) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()

	if deliver != nil {
		deliver(message)
	}
	return nil
}

// Subscribe registers the delivery callback.
func (b *LocalBroker) Subscribe(_ context.Context, deliver DeliverFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = deliver
	return nil
}

// Close detaches the delivery callback.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = nil
	return nil
}

// RedisBroker fans messages out through a Redis pub/sub channel so every instance delivers to
// its own connections.
type RedisBroker struct {
	client  *redis.Client
	channel string
	log     *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBroker constructs a broker on the supplied client and channel.
func NewRedisBroker(client *redis.Client, channel string) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("realtime: redis client is required")
	}
	if channel == "" {
		channel = "foodbridge:realtime"
	}
	return &RedisBroker{
		client:  client,
		channel: channel,
		log:     logger.WithModule("realtime.broker"),
	}, nil
}

// Publish encodes the message and publishes it on the broker channel.
func (b *RedisBroker) Publish(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("realtime: encode message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

// Subscribe listens on the broker channel until ctx is cancelled or the broker is closed.
func (b *RedisBroker) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	if deliver == nil {
		return errors.New("realtime: deliver func is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return errors.New("realtime: broker already subscribed")
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("realtime: subscribe %s: %w", b.channel, err)
	}

	b.pubsub = pubsub
	b.done = make(chan struct{})
	go b.consume(ctx, pubsub, deliver, b.done)
	return nil
}

func (b *RedisBroker) consume(ctx context.Context, pubsub *redis.PubSub, deliver DeliverFunc, done chan struct{}) {
	defer close(done)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var message Message
			if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
				b.log.Warn("discarding malformed broker payload", zap.Error(err))
				continue
			}
			deliver(message)
		}
	}
}

// Close stops the subscription. The redis client is owned by the caller.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub, b.done = nil, nil
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
