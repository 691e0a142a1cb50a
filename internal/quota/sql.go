package quota

import (
	"context"

	"classifieds-messaging/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqlCounter struct {
	db *gorm.DB
}

// NewSQLLedger stores counters in the message_quotas table. The increment is a
// conditional UPDATE (sent < limit) so concurrent sends for one user cannot
// push the count past the limit.
func NewSQLLedger(db *gorm.DB, p Policy) Ledger {
	return newLedger(p, &sqlCounter{db: db})
}

func (c *sqlCounter) increment(ctx context.Context, userID, day string, limit int) (int, bool, error) {
	var (
		rec     models.QuotaRecord
		allowed bool
	)

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := models.QuotaRecord{UserID: userID, Day: day}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		res := tx.Model(&models.QuotaRecord{}).
			Where("user_id = ? AND day = ? AND sent < ?", userID, day, limit).
			Update("sent", gorm.Expr("sent + 1"))
		if res.Error != nil {
			return res.Error
		}
		allowed = res.RowsAffected == 1

		if !allowed {
			if err := tx.Model(&models.QuotaRecord{}).
				Where("user_id = ? AND day = ?", userID, day).
				Update("denied", gorm.Expr("denied + 1")).Error; err != nil {
				return err
			}
		}

		return tx.Where("user_id = ? AND day = ?", userID, day).Take(&rec).Error
	})
	if err != nil {
		return 0, false, err
	}

	return rec.Sent, allowed, nil
}

func (c *sqlCounter) current(ctx context.Context, userID, day string) (int, error) {
	var recs []models.QuotaRecord
	err := c.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[0].Sent, nil
}
