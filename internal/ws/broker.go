package ws

import (
	"context"
	"encoding/json"
	"sync"

	"classifieds-messaging/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Envelope carries one encoded frame to the named users.
type Envelope struct {
	Recipients []string        `json:"recipients"`
	Type       string          `json:"type"`
	Frame      json.RawMessage `json:"frame"`
}

// Broker moves envelopes from publishers to every hub that may hold a
// recipient's connection. It never stores envelopes.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe installs handler and returns once the subscription is live.
	Subscribe(ctx context.Context, handler func(Envelope)) error
	Close() error
}

// LocalBroker delivers synchronously inside the publishing goroutine, so a
// publish returns only after the frame is queued on the recipient's connection.
type LocalBroker struct {
	mu      sync.RWMutex
	handler func(Envelope)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	handler := b.handler
	b.mu.RUnlock()

	if handler != nil {
		handler(env)
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, handler func(Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *LocalBroker) Close() error {
	return nil
}

// RedisBroker fans envelopes out to every instance over a Redis pub/sub
// channel. Delivery is fire-and-forget; the message store stays the source
// of truth for clients that miss a frame.
type RedisBroker struct {
	client  redis.UniversalClient
	channel string
	log     *logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedisBroker(client redis.UniversalClient, channel string, log *logger.Logger) *RedisBroker {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &RedisBroker{client: client, channel: channel, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, handler func(Envelope)) error {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}

	b.mu.Lock()
	b.pubsub = ps
	b.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.LogError(err, "Dropping malformed envelope", "channel", b.channel)
				continue
			}
			handler(env)
		}
	}()

	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
