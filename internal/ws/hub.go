// Package ws is the push transport: one live connection per user, fed from
// the message store through a broker.
package ws

import (
	"context"
	"sync"
	"time"

	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/pkg/logger"
	"classifieds-messaging/backend/pkg/metrics"
)

// Presence records when a user was last connected
type Presence interface {
	Touch(ctx context.Context, userID string, at time.Time) error
}

// Hub owns the per-user connection slot. The most recently authenticated
// connection wins; events for users without a connection are dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	broker   Broker
	presence Presence
	typing   *typingTracker
	log      *logger.Logger
}

func NewHub(broker Broker, presence Presence, typingTTL time.Duration, log *logger.Logger) *Hub {
	if broker == nil {
		broker = NewLocalBroker()
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	h := &Hub{
		clients:  make(map[string]*Client),
		broker:   broker,
		presence: presence,
		log:      log,
	}
	h.typing = newTypingTracker(typingTTL, h.emitTyping)
	return h
}

// Start subscribes the hub to its broker
func (h *Hub) Start(ctx context.Context) error {
	return h.broker.Subscribe(ctx, h.deliver)
}

// Close evicts every connection and releases the broker
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close("server shutting down")
	}
	metrics.WSConnections.Set(0)
	return h.broker.Close()
}

// IsOnline reports whether userID holds a connection on this instance
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Connections returns the number of live connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if old != nil {
		old.close("replaced by a newer connection")
		metrics.WSEvictions.WithLabelValues("replaced").Inc()
		h.log.Info("Connection replaced", "user_id", c.userID, "old_conn_id", old.id, "conn_id", c.id)
	} else {
		metrics.WSConnections.Inc()
	}

	h.touch(c.userID)
	h.log.Info("Client registered", "user_id", c.userID, "conn_id", c.id)
}

// unregister frees the slot only if c still owns it
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	owned := h.clients[c.userID] == c
	if owned {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	c.close("connection closed")
	if !owned {
		return
	}

	metrics.WSConnections.Dec()
	h.typing.stopAllFrom(c.userID)
	h.touch(c.userID)
	h.log.Info("Client unregistered", "user_id", c.userID, "conn_id", c.id)
}

func (h *Hub) touch(userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Touch(ctx, userID, time.Now().UTC()); err != nil {
		h.log.LogError(err, "Failed to update last seen", "user_id", userID)
	}
}

// push queues frame on c. A client whose buffer is full is disconnected and
// catches up through the pull transport.
func (h *Hub) push(c *Client, typ string, frame []byte) {
	if c.enqueue(frame) {
		metrics.WSEventsDelivered.WithLabelValues(typ).Inc()
		return
	}
	if c.isClosed() {
		metrics.WSEventsDropped.WithLabelValues(typ).Inc()
		return
	}

	metrics.WSEvictions.WithLabelValues("slow_consumer").Inc()
	h.log.Warn("Send buffer full, closing connection", "user_id", c.userID, "conn_id", c.id)
	c.close("send buffer overflow")
}

func (h *Hub) deliver(env Envelope) {
	for _, userID := range env.Recipients {
		h.mu.RLock()
		c := h.clients[userID]
		h.mu.RUnlock()

		if c == nil {
			metrics.WSEventsDropped.WithLabelValues(env.Type).Inc()
			continue
		}
		h.push(c, env.Type, env.Frame)
	}
}

func (h *Hub) publish(ctx context.Context, typ string, content any, recipients ...string) {
	frame, err := encode(typ, content)
	if err != nil {
		h.log.LogError(err, "Failed to encode frame", "type", typ)
		return
	}
	if err := h.broker.Publish(ctx, Envelope{Recipients: recipients, Type: typ, Frame: frame}); err != nil {
		h.log.LogError(err, "Failed to publish frame", "type", typ)
	}
}

// PublishMessage notifies the receiver and echoes to the sender's connection.
func (h *Hub) PublishMessage(ctx context.Context, msg models.Message) {
	h.publish(ctx, TypeNewMessage, NewMessageContent{Message: msg}, msg.ReceiverID, msg.SenderID)
	h.typing.stop(msg.SenderID, msg.ReceiverID)
}

// PublishRead tells the original sender their messages were read.
func (h *Hub) PublishRead(ctx context.Context, receipt models.ReadReceipt) {
	h.publish(ctx, TypeMessagesRead, receipt, receipt.SenderID, receipt.ReaderID)
}

func (h *Hub) Typing(_ context.Context, fromID, toID string, active bool) {
	if active {
		h.typing.start(fromID, toID)
		return
	}
	h.typing.stop(fromID, toID)
}

func (h *Hub) emitTyping(from, to string, active bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.publish(ctx, TypeTyping, TypingEvent{UserID: from, IsTyping: active}, to)
}
