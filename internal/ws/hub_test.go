package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(NewLocalBroker(), nil, 50*time.Millisecond, logger.Nop())
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Close() })
	return hub
}

func decodeFrame(t *testing.T, frame []byte) (string, map[string]any) {
	t.Helper()
	var out struct {
		Type    string         `json:"type"`
		Content map[string]any `json:"content"`
	}
	require.NoError(t, json.Unmarshal(frame, &out))
	return out.Type, out.Content
}

func TestHub_NewConnectionEvictsOld(t *testing.T) {
	hub := newTestHub(t)

	first := newClient("c1", "bob", nil, 4, logger.Nop())
	second := newClient("c2", "bob", nil, 4, logger.Nop())

	hub.register(first)
	hub.register(second)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Equal(t, 1, hub.Connections())

	// the evicted connection cannot free the new owner's slot
	hub.unregister(first)
	assert.True(t, hub.IsOnline("bob"))

	hub.unregister(second)
	assert.False(t, hub.IsOnline("bob"))
}

func TestHub_PublishMessageReachesBothParticipants(t *testing.T) {
	hub := newTestHub(t)

	alice := newClient("a", "alice", nil, 4, logger.Nop())
	bob := newClient("b", "bob", nil, 4, logger.Nop())
	hub.register(alice)
	hub.register(bob)

	hub.PublishMessage(context.Background(), models.Message{ID: 101, SenderID: "alice", ReceiverID: "bob", Body: "hi"})

	for _, c := range []*Client{alice, bob} {
		require.Len(t, c.send, 1)
		typ, content := decodeFrame(t, <-c.send)
		assert.Equal(t, TypeNewMessage, typ)
		msg := content["message"].(map[string]any)
		assert.Equal(t, float64(101), msg["id"])
	}

	// nobody connected: dropped, not queued
	hub.PublishMessage(context.Background(), models.Message{ID: 102, SenderID: "carol", ReceiverID: "dave"})
}

func TestHub_SlowConsumerIsDisconnected(t *testing.T) {
	hub := newTestHub(t)

	bob := newClient("b", "bob", nil, 1, logger.Nop())
	hub.register(bob)

	hub.PublishRead(context.Background(), models.ReadReceipt{ReaderID: "alice", SenderID: "bob", Count: 1})
	assert.False(t, bob.isClosed())

	hub.PublishRead(context.Background(), models.ReadReceipt{ReaderID: "alice", SenderID: "bob", Count: 1})
	assert.True(t, bob.isClosed())
}

type typingLog struct {
	mu     sync.Mutex
	events []TypingEvent
}

func (l *typingLog) emit(from, _ string, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, TypingEvent{UserID: from, IsTyping: active})
}

func (l *typingLog) snapshot() []TypingEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TypingEvent(nil), l.events...)
}

func TestTypingTracker_ExpiresWithoutRefresh(t *testing.T) {
	log := &typingLog{}
	tr := newTypingTracker(40*time.Millisecond, log.emit)

	tr.start("alice", "bob")
	tr.start("alice", "bob")
	assert.Equal(t, []TypingEvent{{UserID: "alice", IsTyping: true}}, log.snapshot())

	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TypingEvent{UserID: "alice", IsTyping: false}, log.snapshot()[1])

	// expired indicators do not fire again
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, log.snapshot(), 2)
}

func TestTypingTracker_ExplicitStop(t *testing.T) {
	log := &typingLog{}
	tr := newTypingTracker(time.Hour, log.emit)

	tr.stop("alice", "bob")
	assert.Empty(t, log.snapshot())

	tr.start("alice", "bob")
	tr.start("alice", "carol")
	tr.stopAllFrom("alice")

	events := log.snapshot()
	require.Len(t, events, 4)
	assert.False(t, events[2].IsTyping)
	assert.False(t, events[3].IsTyping)
}

func TestRedisBroker_FansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	dial := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	ctx := context.Background()
	publisher := NewRedisBroker(dial(), "dm:deliver", logger.Nop())
	subscriber := NewRedisBroker(dial(), "dm:deliver", logger.Nop())
	t.Cleanup(func() { _ = subscriber.Close() })

	got := make(chan Envelope, 1)
	require.NoError(t, subscriber.Subscribe(ctx, func(env Envelope) { got <- env }))

	frame, err := encode(TypePong, nil)
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, Envelope{Recipients: []string{"bob"}, Type: TypePong, Frame: frame}))

	select {
	case env := <-got:
		assert.Equal(t, []string{"bob"}, env.Recipients)
		assert.JSONEq(t, string(frame), string(env.Frame))
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
}
