package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
)

// ErrDLQEntryNotFound is returned by Replay when the event was never dead-lettered.
var ErrDLQEntryNotFound = errors.New("dead-lettered event not found")

const (
	maxDLQMessageLen = 1024
	defaultDLQPage   = 50
)

// DLQRepository stores outbox events the publisher gave up on so an operator
// can inspect and replay them.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a dead-lettered event inside the publisher's transaction.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDLQMessageLen {
		clipped := (*entry.ErrorMessage)[:maxDLQMessageLen]
		entry.ErrorMessage = &clipped
	}
	return tx.Create(&entry).Error
}

// Recent lists the newest entries first.
func (r *DLQRepository) Recent(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQPage
	}
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Replay hands a dead-lettered event back to the publisher: the outbox row
// gets a fresh attempt budget and the DLQ entry is removed in the same
// transaction. Events that were published in the meantime are left alone.
func (r *DLQRepository) Replay(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{})
		if res.Error != nil {
			return fmt.Errorf("delete dlq entry: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrDLQEntryNotFound
		}
		err := tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{"attempt_count": 0, "last_error": nil}).Error
		if err != nil {
			return fmt.Errorf("reset outbox event: %w", err)
		}
		return nil
	})
}

// PurgeBefore drops entries that failed before cutoff.
func (r *DLQRepository) PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
