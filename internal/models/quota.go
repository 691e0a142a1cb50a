package models

import "time"

// QuotaRecord counts messages a user sent on one calendar day.
// Sent never exceeds the daily limit; rejected attempts are tallied in Denied.
type QuotaRecord struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Day       string `gorm:"primaryKey;size:10"` // YYYY-MM-DD in the quota timezone
	Sent      int    `gorm:"not null;default:0"`
	Denied    int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// TableName specifies the table name for QuotaRecord.
func (QuotaRecord) TableName() string {
	return "message_quotas"
}

// All returns every model that must be migrated
func All() []any {
	return []any{&Message{}, &User{}, &Block{}, &QuotaRecord{}}
}
