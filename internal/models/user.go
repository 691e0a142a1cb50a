package models

import (
	"time"
)

// User is the slice of the user directory the messaging core reads.
// Accounts themselves are owned by the identity provider.
type User struct {
	ID          string     `json:"id" gorm:"primaryKey;size:64"`
	DisplayName string     `json:"display_name" gorm:"size:255"`
	IsPremium   bool       `json:"is_premium" gorm:"not null;default:false"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName pins the table name
func (User) TableName() string {
	return "users"
}

// Profile is the display projection of a user
type Profile struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Online      bool       `json:"online"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// Block records that BlockerID does not accept messages from BlockedID
type Block struct {
	BlockerID string    `json:"blocker_id" gorm:"primaryKey;size:64"`
	BlockedID string    `json:"blocked_id" gorm:"primaryKey;size:64"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the table name
func (Block) TableName() string {
	return "user_blocks"
}
