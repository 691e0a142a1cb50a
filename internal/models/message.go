package models

import (
	"time"
)

// Message is one direct message between two users. Rows are append-only:
// only ReadAt changes after insert.
type Message struct {
	ID            uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SenderID      string     `json:"sender_id" gorm:"size:64;not null;index:idx_messages_pair,priority:1"`
	ReceiverID    string     `json:"receiver_id" gorm:"size:64;not null;index:idx_messages_pair,priority:2;index:idx_messages_unread,priority:1"`
	Body          string     `json:"body" gorm:"type:text;not null"`
	AttachmentURL string     `json:"attachment_url,omitempty" gorm:"size:2048"`
	WasRedacted   bool       `json:"was_redacted" gorm:"not null;default:false"`
	CreatedAt     time.Time  `json:"created_at" gorm:"not null"`
	ReadAt        *time.Time `json:"read_at" gorm:"index:idx_messages_unread,priority:2"`
}

// TableName pins the table name
func (Message) TableName() string {
	return "messages"
}

// Counterparty returns the other participant of m as seen by viewerID
func (m *Message) Counterparty(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ReadReceipt is emitted when a reader marks a sender's messages as read
type ReadReceipt struct {
	ReaderID string    `json:"reader_id"`
	SenderID string    `json:"sender_id"`
	Count    int64     `json:"count"`
	ReadAt   time.Time `json:"read_at"`
}
