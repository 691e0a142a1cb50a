// Package repository holds the gorm-backed stores of the messaging core.
package repository

import (
	"context"
	"sync"
	"time"

	"classifieds-messaging/backend/internal/models"

	"gorm.io/gorm"
)

// MessageRepository is the append-only message log. Message ids are the
// single source of ordering and double as the sync high-water mark.
type MessageRepository interface {
	Insert(ctx context.Context, msg *models.Message) error
	// FetchConversation returns the latest limit messages when sinceID is 0,
	// otherwise the first limit messages with id > sinceID. Ascending by id.
	FetchConversation(ctx context.Context, userA, userB string, sinceID uint64, limit int) ([]models.Message, error)
	// FetchBefore returns up to limit messages with id < beforeID, ascending by id.
	FetchBefore(ctx context.Context, userA, userB string, beforeID uint64, limit int) ([]models.Message, error)
	// MarkRead stamps every unread message from senderID to readerID and
	// returns the number of rows changed.
	MarkRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error)
	// LatestPerCounterparty returns the newest message of each conversation of
	// userID, newest conversation first.
	LatestPerCounterparty(ctx context.Context, userID string, limit int) ([]models.Message, error)
	UnreadBySender(ctx context.Context, receiverID string) (map[string]int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
	// Sync returns messages to or from userID with id > sinceID, ascending by id.
	Sync(ctx context.Context, userID string, sinceID uint64, limit int) ([]models.Message, error)
	HighWaterMark(ctx context.Context, userID string) (uint64, error)
}

type GormMessageRepository struct {
	db *gorm.DB
	// insertMu keeps commit order equal to id order within this process so a
	// reader never sees id n+1 before id n. insertLockSQL extends that across
	// processes.
	insertMu sync.Mutex
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Insert(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	r.insertMu.Lock()
	defer r.insertMu.Unlock()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if lock := insertLockSQL(tx.Dialector.Name()); lock != "" {
			if err := tx.Exec(lock, messageInsertLockKey).Error; err != nil {
				return err
			}
		}
		return tx.Create(msg).Error
	})
}

// messageInsertLockKey names the advisory lock that serializes message
// inserts across every instance sharing the database.
const messageInsertLockKey int64 = 0x646d5f6d7367

// insertLockSQL returns the statement taking the cross-process insert lock
// for dialect. The lock is released when the surrounding transaction ends, so
// id n is committed before id n+1 is allocated. SQLite serializes writers on
// its own and needs nothing.
func insertLockSQL(dialect string) string {
	switch dialect {
	case "postgres":
		return "SELECT pg_advisory_xact_lock(?)"
	default:
		return ""
	}
}

func conversation(db *gorm.DB, userA, userB string) *gorm.DB {
	return db.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userA, userB, userB, userA)
}

func (r *GormMessageRepository) FetchConversation(ctx context.Context, userA, userB string, sinceID uint64, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := conversation(r.db.WithContext(ctx).Model(&models.Message{}), userA, userB)

	if sinceID > 0 {
		err := q.Where("id > ?", sinceID).Order("id ASC").Limit(limit).Find(&messages).Error
		return messages, err
	}

	if err := q.Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func (r *GormMessageRepository) FetchBefore(ctx context.Context, userA, userB string, beforeID uint64, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := conversation(r.db.WithContext(ctx).Model(&models.Message{}), userA, userB).
		Where("id < ?", beforeID).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func (r *GormMessageRepository) MarkRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND read_at IS NULL", readerID, senderID).
		Update("read_at", at)
	return res.RowsAffected, res.Error
}

const latestPerCounterpartySQL = `
SELECT m.* FROM messages m
JOIN (
	SELECT MAX(id) AS id FROM messages
	WHERE sender_id = ? OR receiver_id = ?
	GROUP BY CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
) latest ON latest.id = m.id
ORDER BY m.id DESC
LIMIT ?`

func (r *GormMessageRepository) LatestPerCounterparty(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Raw(latestPerCounterpartySQL, userID, userID, userID, limit).
		Scan(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) UnreadBySender(ctx context.Context, receiverID string) (map[string]int64, error) {
	var rows []struct {
		SenderID string
		Unread   int64
	}
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("sender_id, COUNT(*) AS unread").
		Where("receiver_id = ? AND read_at IS NULL", receiverID).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.SenderID] = row.Unread
	}
	return counts, nil
}

func (r *GormMessageRepository) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND read_at IS NULL", receiverID).
		Count(&n).Error
	return n, err
}

func (r *GormMessageRepository) Sync(ctx context.Context, userID string, sinceID uint64, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? OR receiver_id = ?) AND id > ?", userID, userID, sinceID).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) HighWaterMark(ctx context.Context, userID string) (uint64, error) {
	var hwm uint64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("COALESCE(MAX(id), 0)").
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Row().Scan(&hwm)
	return hwm, err
}

func reverse(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
