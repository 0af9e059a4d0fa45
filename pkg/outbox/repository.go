package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
)

const maxLastErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish locks a batch of pending rows so concurrent
// publishers skip them.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var rows []models.OutboxEvent
	query := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	err := query.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now().UTC(),
		}).Error
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncateError(err),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkTerminalTx pins attempt_count at the cap so the row is never fetched
// again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncateError(err),
			"attempt_count": terminalAttempts,
		}).Error
}

// DeletePublishedBefore removes published rows older than cutoff, plus
// unpublished rows that already exhausted minAttemptCount retries.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).
		Where("(published_at IS NOT NULL AND published_at < ?) OR (published_at IS NULL AND attempt_count >= ? AND created_at < ?)", cutoff, minAttemptCount, cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// ListByAggregate returns every event for an aggregate in insertion order.
func (r *Repository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxLastErrorLen {
		msg = msg[:maxLastErrorLen]
	}
	return &msg
}
