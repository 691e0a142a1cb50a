package ws

import (
	"encoding/json"
	"time"

	"classifieds-messaging/backend/internal/models"
)

// Client → server frame types
const (
	TypeAuth     = "auth"
	TypeSend     = "send"
	TypeTyping   = "typing"
	TypeMarkRead = "mark_read"
	TypePing     = "ping"
)

// Server → client frame types
const (
	TypeAuthSuccess  = "auth_success"
	TypeNewMessage   = "new_message"
	TypeSendAck      = "send_ack"
	TypeMessagesRead = "messages_read"
	TypeError        = "error"
	TypePong         = "pong"
)

// Message is a frame read from a client
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Content any    `json:"content,omitempty"`
}

func encode(typ string, content any) ([]byte, error) {
	return json.Marshal(outbound{Type: typ, Content: content})
}

type AuthContent struct {
	Token          string `json:"token"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	SinceID        uint64 `json:"since_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type SendContent struct {
	ReceiverID    string `json:"receiver_id"`
	Body          string `json:"body"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	ClientRef     string `json:"client_ref,omitempty"`
}

type TypingContent struct {
	ReceiverID string `json:"receiver_id"`
	Active     bool   `json:"active"`
}

type MarkReadContent struct {
	SenderID string `json:"sender_id"`
}

type AuthSuccessContent struct {
	UserID        string           `json:"user_id"`
	HighWaterMark uint64           `json:"high_water_mark"`
	Messages      []models.Message `json:"messages,omitempty"`
}

type NewMessageContent struct {
	Message models.Message `json:"message"`
}

type SendAckContent struct {
	ClientRef      string    `json:"client_ref,omitempty"`
	MessageID      uint64    `json:"message_id"`
	CreatedAt      time.Time `json:"created_at"`
	RemainingQuota any       `json:"remaining_quota"`
	Warning        string    `json:"warning,omitempty"`
}

type TypingEvent struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type ErrorContent struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"client_ref,omitempty"`
}
