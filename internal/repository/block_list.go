package repository

import (
	"context"

	"classifieds-messaging/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlockList answers whether two users may message each other.
type BlockList interface {
	// IsBlocked reports whether either user blocks the other.
	IsBlocked(ctx context.Context, userA, userB string) (bool, error)
	Block(ctx context.Context, blockerID, blockedID string) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
}

type GormBlockList struct {
	db *gorm.DB
}

func NewGormBlockList(db *gorm.DB) *GormBlockList {
	return &GormBlockList{db: db}
}

func (b *GormBlockList) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	var n int64
	err := b.db.WithContext(ctx).Model(&models.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)",
			userA, userB, userB, userA).
		Count(&n).Error
	return n > 0, err
}

// Block is idempotent
func (b *GormBlockList) Block(ctx context.Context, blockerID, blockedID string) error {
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Block{BlockerID: blockerID, BlockedID: blockedID}).Error
}

func (b *GormBlockList) Unblock(ctx context.Context, blockerID, blockedID string) error {
	return b.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.Block{}).Error
}
