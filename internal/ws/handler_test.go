package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"classifieds-messaging/backend/internal/quota"
	"classifieds-messaging/backend/internal/repository"
	"classifieds-messaging/backend/internal/service"
	"classifieds-messaging/backend/internal/testutil"
	"classifieds-messaging/backend/pkg/jwt"
	"classifieds-messaging/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv    *httptest.Server
	hub    *Hub
	svc    *service.MessagingService
	tokens *jwt.Service
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	testutil.SeedUser(t, db, "alice", "Alice", false)
	testutil.SeedUser(t, db, "bob", "Bob", false)

	dir := repository.NewGormUserDirectory(db, time.Minute, 5*time.Minute)
	t.Cleanup(dir.Close)

	hub := NewHub(NewLocalBroker(), dir, 100*time.Millisecond, logger.Nop())
	require.NoError(t, hub.Start(context.Background()))
	dir.SetPresence(hub.IsOnline)

	svc := service.NewMessagingService(service.Deps{
		Messages:  repository.NewGormMessageRepository(db),
		Blocks:    repository.NewGormBlockList(db),
		Directory: dir,
		Quota:     quota.NewMemoryLedger(quota.DefaultPolicy()),
		Publisher: hub,
	}, service.DefaultOptions(), logger.Nop())

	tokens := jwt.NewService("test-secret", time.Hour)
	h := NewHandler(hub, svc, tokens, cfg, logger.Nop())

	r := gin.New()
	r.GET("/ws", h.ServeWs)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = hub.Close() })

	return &testEnv{srv: srv, hub: hub, svc: svc, tokens: tokens}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.tokens.GenerateToken(userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) connect(t *testing.T, userID string, auth AuthContent) (*websocket.Conn, AuthSuccessContent) {
	t.Helper()
	conn := e.dial(t)
	auth.Token = e.token(t, userID)
	writeFrame(t, conn, TypeAuth, auth)

	var ok AuthSuccessContent
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeAuthSuccess), &ok))
	require.Equal(t, userID, ok.UserID)
	return conn, ok
}

func writeFrame(t *testing.T, conn *websocket.Conn, typ string, content any) {
	t.Helper()
	frame, err := encode(typ, content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg.Type, msg.Content
}

// readUntil skips frames until one of type typ arrives
func readUntil(t *testing.T, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	for {
		got, content := readFrame(t, conn)
		if got == typ {
			return content
		}
	}
}

func TestPush_AuthMustComeFirst(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	conn := env.dial(t)
	writeFrame(t, conn, TypeSend, SendContent{ReceiverID: "alice", Body: "sneaky"})

	typ, content := readFrame(t, conn)
	require.Equal(t, TypeError, typ)
	var e ErrorContent
	require.NoError(t, json.Unmarshal(content, &e))
	assert.Equal(t, "unauthenticated", e.Code)

	writeFrame(t, conn, TypeAuth, AuthContent{Token: "not-a-token"})
	typ, _ = readFrame(t, conn)
	require.Equal(t, TypeError, typ)

	// the server hangs up after a failed auth
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	page, err := env.svc.Sync(context.Background(), "alice", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestPush_AuthSuccessCarriesInitialLoad(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	var last uint64
	for i := 0; i < 3; i++ {
		res, err := env.svc.SendMessage(ctx, "alice", service.SendRequest{ReceiverID: "bob", Body: "hello"})
		require.NoError(t, err)
		last = res.Message.ID
	}

	_, ok := env.connect(t, "bob", AuthContent{CounterpartyID: "alice", Limit: 2})
	assert.Equal(t, last, ok.HighWaterMark)
	require.Len(t, ok.Messages, 2)
	assert.Equal(t, last, ok.Messages[1].ID)
	assert.True(t, env.hub.IsOnline("bob"))
}

func TestPush_TransportsAgree(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	bob, _ := env.connect(t, "bob", AuthContent{})

	res, err := env.svc.SendMessage(ctx, "alice", service.SendRequest{ReceiverID: "bob", Body: "still for sale?"})
	require.NoError(t, err)
	id := res.Message.ID

	var pushed NewMessageContent
	require.NoError(t, json.Unmarshal(readUntil(t, bob, TypeNewMessage), &pushed))
	assert.Equal(t, id, pushed.Message.ID)
	assert.Equal(t, "still for sale?", pushed.Message.Body)

	polled, err := env.svc.GetConversation(ctx, "bob", "alice", id-1, 0)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 1)
	assert.Equal(t, pushed.Message.ID, polled.Messages[0].ID)
	assert.Equal(t, pushed.Message.Body, polled.Messages[0].Body)
}

func TestPush_SendOverSocket(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	alice, _ := env.connect(t, "alice", AuthContent{})
	bob, _ := env.connect(t, "bob", AuthContent{})

	writeFrame(t, alice, TypeSend, SendContent{ReceiverID: "bob", Body: "text me 555 123 4567", ClientRef: "r1"})

	var ack struct {
		ClientRef      string  `json:"client_ref"`
		MessageID      uint64  `json:"message_id"`
		RemainingQuota float64 `json:"remaining_quota"`
		Warning        string  `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, alice, TypeSendAck), &ack))
	assert.Equal(t, "r1", ack.ClientRef)
	assert.Equal(t, float64(24), ack.RemainingQuota)
	assert.Equal(t, service.RedactionWarning, ack.Warning)

	var pushed NewMessageContent
	require.NoError(t, json.Unmarshal(readUntil(t, bob, TypeNewMessage), &pushed))
	assert.Equal(t, ack.MessageID, pushed.Message.ID)
	assert.NotContains(t, pushed.Message.Body, "4567")

	// read receipt flows back to the sender
	writeFrame(t, bob, TypeMarkRead, MarkReadContent{SenderID: "alice"})
	var receipt struct {
		ReaderID string `json:"reader_id"`
		Count    int64  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, alice, TypeMessagesRead), &receipt))
	assert.Equal(t, "bob", receipt.ReaderID)
	assert.Equal(t, int64(1), receipt.Count)
}

func TestPush_ErrorFramesCarryCodes(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	require.NoError(t, env.svc.Block(context.Background(), "alice", "bob"))

	bob, _ := env.connect(t, "bob", AuthContent{})
	writeFrame(t, bob, TypeSend, SendContent{ReceiverID: "alice", Body: "hi", ClientRef: "x"})

	var e ErrorContent
	require.NoError(t, json.Unmarshal(readUntil(t, bob, TypeError), &e))
	assert.Equal(t, "blocked", e.Code)
	assert.Equal(t, "x", e.ClientRef)

	writeFrame(t, bob, TypeSend, SendContent{ReceiverID: "bob", Body: "me"})
	require.NoError(t, json.Unmarshal(readUntil(t, bob, TypeError), &e))
	assert.Equal(t, "invalid_input", e.Code)

	writeFrame(t, bob, "dance", nil)
	require.NoError(t, json.Unmarshal(readUntil(t, bob, TypeError), &e))
	assert.Equal(t, "invalid_input", e.Code)
}

func TestPush_NewConnectionReplacesOld(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	first, _ := env.connect(t, "bob", AuthContent{})
	second, _ := env.connect(t, "bob", AuthContent{})

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, "replaced by a newer connection", closeErr.Text)
			break
		}
	}

	_, err := env.svc.SendMessage(context.Background(), "alice", service.SendRequest{ReceiverID: "bob", Body: "hi"})
	require.NoError(t, err)
	readUntil(t, second, TypeNewMessage)
	assert.Equal(t, 1, env.hub.Connections())
}

func TestPush_TypingExpires(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	alice, _ := env.connect(t, "alice", AuthContent{})
	bob, _ := env.connect(t, "bob", AuthContent{})

	writeFrame(t, alice, TypeTyping, TypingContent{ReceiverID: "bob", Active: true})

	var ev TypingEvent
	require.NoError(t, json.Unmarshal(readUntil(t, bob, TypeTyping), &ev))
	assert.Equal(t, TypingEvent{UserID: "alice", IsTyping: true}, ev)

	require.NoError(t, json.Unmarshal(readUntil(t, bob, TypeTyping), &ev))
	assert.Equal(t, TypingEvent{UserID: "alice", IsTyping: false}, ev)
}

func TestPush_PingAndRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameRate = 0.001
	cfg.FrameBurst = 1
	env := newTestEnv(t, cfg)

	conn, _ := env.connect(t, "alice", AuthContent{})
	writeFrame(t, conn, TypePing, nil)
	typ, _ := readFrame(t, conn)
	assert.Equal(t, TypePong, typ)

	writeFrame(t, conn, TypePing, nil)
	var e ErrorContent
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeError), &e))
	assert.Equal(t, "rate_limited", e.Code)
}

func TestPush_IdleConnectionIsDeregistered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PongWait = 300 * time.Millisecond
	env := newTestEnv(t, cfg)

	// The client stops reading after auth, so server pings go unanswered.
	env.connect(t, "alice", AuthContent{})
	require.True(t, env.hub.IsOnline("alice"))

	require.Eventually(t, func() bool {
		return !env.hub.IsOnline("alice")
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, env.hub.Connections())
}
