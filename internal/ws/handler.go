package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"classifieds-messaging/backend/internal/service"
	"classifieds-messaging/backend/pkg/logger"
	"classifieds-messaging/backend/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Service is the part of the messaging service reachable from a push connection
type Service interface {
	SendMessage(ctx context.Context, senderID string, req service.SendRequest) (*service.SendResult, error)
	GetConversation(ctx context.Context, viewerID, counterpartyID string, sinceID uint64, limit int) (*service.Page, error)
	HighWaterMark(ctx context.Context, userID string) (uint64, error)
	MarkRead(ctx context.Context, readerID, senderID string) (int64, error)
	Typing(ctx context.Context, fromID, toID string, active bool) error
}

// Authenticator resolves a bearer token to a user id
type Authenticator interface {
	Authenticate(token string) (string, error)
}

type Config struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration
	// Time allowed between frames or pongs from the peer
	PongWait time.Duration
	// Time allowed between upgrade and a valid auth frame
	AuthTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int
	FrameRate      float64
	FrameBurst     int
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		AuthTimeout:    10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
		FrameRate:      10,
		FrameBurst:     20,
		AllowedOrigins: []string{"*"},
	}
}

// pingPeriod must be less than pongWait
func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

var errAuthFailed = errors.New("authentication failed")

type Handler struct {
	hub      *Hub
	svc      Service
	auth     Authenticator
	cfg      Config
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewHandler(hub *Hub, svc Service, auth Authenticator, cfg Config, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.GetGlobal()
	}
	h := &Handler{hub: hub, svc: svc, auth: auth, cfg: cfg, log: log}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWs upgrades the request. Authentication happens in-band: the first
// frame must be auth.
func (h *Handler) ServeWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.LogError(err, "Error upgrading connection")
		return
	}

	go h.serve(conn)
}

func (h *Handler) serve(conn *websocket.Conn) {
	connID := uuid.NewString()
	log := h.log.WithConnID(connID)
	conn.SetReadLimit(h.cfg.MaxMessageSize)

	userID, auth, err := h.authenticate(conn, log)
	if err != nil {
		conn.Close()
		return
	}

	log = log.WithUserID(userID)
	client := newClient(connID, userID, conn, h.cfg.SendBuffer, log)
	h.hub.register(client)

	// the write pump is not running yet, so this write cannot interleave;
	// events published meanwhile wait in the send buffer
	if err := h.sendAuthSuccess(client, auth); err != nil {
		log.LogError(err, "Initial load failed")
		h.hub.unregister(client)
		conn.Close()
		return
	}

	go client.writePump(h.cfg.WriteWait, h.cfg.pingPeriod())
	h.readPump(client)
}

func (h *Handler) writeDirect(conn *websocket.Conn, typ string, content any) error {
	frame, err := encode(typ, content)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// authenticate reads frames until a valid auth frame arrives or the auth
// timeout passes. Other frames are answered with an error.
func (h *Handler) authenticate(conn *websocket.Conn, log *logger.Logger) (string, AuthContent, error) {
	conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("Connection closed before auth", "error", err.Error())
			return "", AuthContent{}, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeAuth {
			_ = h.writeDirect(conn, TypeError, ErrorContent{Code: "unauthenticated", Message: "Authenticate first"})
			continue
		}

		var auth AuthContent
		if err := json.Unmarshal(msg.Content, &auth); err != nil || auth.Token == "" {
			_ = h.writeDirect(conn, TypeError, ErrorContent{Code: "unauthenticated", Message: "Token is required"})
			return "", AuthContent{}, errAuthFailed
		}

		userID, err := h.auth.Authenticate(auth.Token)
		if err != nil {
			log.Info("Rejected push auth", "error", err.Error())
			_ = h.writeDirect(conn, TypeError, ErrorContent{Code: "unauthenticated", Message: "Invalid or expired token"})
			return "", AuthContent{}, errAuthFailed
		}

		return userID, auth, nil
	}
}

func (h *Handler) sendAuthSuccess(c *Client, auth AuthContent) error {
	ctx := logger.NewContext(context.Background(), c.log)

	hwm, err := h.svc.HighWaterMark(ctx, c.userID)
	if err != nil {
		return err
	}

	content := AuthSuccessContent{UserID: c.userID, HighWaterMark: hwm}
	if auth.CounterpartyID != "" {
		page, err := h.svc.GetConversation(ctx, c.userID, auth.CounterpartyID, auth.SinceID, auth.Limit)
		if err != nil {
			return err
		}
		content.Messages = page.Messages
	}

	return h.writeDirect(c.conn, TypeAuthSuccess, content)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.unregister(c)
		c.log.Debug("ReadPump ended")
	}()

	limiter := rate.NewLimiter(rate.Limit(h.cfg.FrameRate), h.cfg.FrameBurst)
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Info("Connection error", "error", err.Error())
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if !limiter.Allow() {
			metrics.RateLimitHits.WithLabelValues("ws").Inc()
			h.sendError(c, "rate_limited", "Too many frames, slow down", "")
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(c, "invalid_input", "Malformed frame", "")
			continue
		}

		// frames are handled in order so sends from one connection keep their order
		h.handle(c, msg)
	}
}

func (h *Handler) handle(c *Client, msg Message) {
	ctx := logger.NewContext(context.Background(), c.log)

	switch msg.Type {
	case TypeSend:
		var in SendContent
		if err := json.Unmarshal(msg.Content, &in); err != nil {
			h.sendError(c, "invalid_input", "Malformed send frame", "")
			return
		}
		res, err := h.svc.SendMessage(ctx, c.userID, service.SendRequest{
			ReceiverID:    in.ReceiverID,
			Body:          in.Body,
			AttachmentURL: in.AttachmentURL,
		})
		if err != nil {
			h.sendServiceError(c, err, in.ClientRef)
			return
		}
		h.sendFrame(c, TypeSendAck, SendAckContent{
			ClientRef:      in.ClientRef,
			MessageID:      res.Message.ID,
			CreatedAt:      res.Message.CreatedAt,
			RemainingQuota: res.QuotaValue(),
			Warning:        res.Warning,
		})

	case TypeTyping:
		var in TypingContent
		if err := json.Unmarshal(msg.Content, &in); err != nil {
			h.sendError(c, "invalid_input", "Malformed typing frame", "")
			return
		}
		if err := h.svc.Typing(ctx, c.userID, in.ReceiverID, in.Active); err != nil {
			h.sendServiceError(c, err, "")
		}

	case TypeMarkRead:
		var in MarkReadContent
		if err := json.Unmarshal(msg.Content, &in); err != nil {
			h.sendError(c, "invalid_input", "Malformed mark_read frame", "")
			return
		}
		if _, err := h.svc.MarkRead(ctx, c.userID, in.SenderID); err != nil {
			h.sendServiceError(c, err, "")
		}

	case TypePing:
		h.sendFrame(c, TypePong, nil)

	case TypeAuth:
		h.sendError(c, "invalid_input", "Already authenticated", "")

	default:
		h.sendError(c, "invalid_input", "Unknown frame type", "")
	}
}

func (h *Handler) sendFrame(c *Client, typ string, content any) {
	frame, err := encode(typ, content)
	if err != nil {
		c.log.LogError(err, "Failed to encode frame", "type", typ)
		return
	}
	h.hub.push(c, typ, frame)
}

func (h *Handler) sendError(c *Client, code, message, clientRef string) {
	h.sendFrame(c, TypeError, ErrorContent{Code: code, Message: message, ClientRef: clientRef})
}

func (h *Handler) sendServiceError(c *Client, err error, clientRef string) {
	appErr := service.ToAppError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		c.log.LogError(err, "Push request failed", "code", appErr.Code)
	}
	h.sendError(c, appErr.Code, appErr.Message, clientRef)
}
