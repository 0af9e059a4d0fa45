package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// ErrAttemptResolved reports that a pending attempt was resolved by someone else.
var ErrAttemptResolved = errors.New("delivery attempt already resolved")

// AttemptRepository persists delivery attempts.
type AttemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository binds the repository to the provided database.
func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// WithTx returns a repository that runs on tx.
func (r *AttemptRepository) WithTx(tx *gorm.DB) *AttemptRepository {
	if tx == nil {
		return r
	}
	return &AttemptRepository{db: tx}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *models.DeliveryAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *AttemptRepository) FindByProviderRef(ctx context.Context, providerRef string) (*models.DeliveryAttempt, error) {
	var attempt models.DeliveryAttempt
	if err := r.db.WithContext(ctx).Where("provider_ref = ?", providerRef).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *AttemptRepository) FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.DeliveryAttempt, error) {
	var attempt models.DeliveryAttempt
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND outcome = ?", orderID, enums.AttemptOutcomePending).
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// Latest returns the highest-numbered attempt for an order.
func (r *AttemptRepository) Latest(ctx context.Context, orderID uuid.UUID) (*models.DeliveryAttempt, error) {
	var attempt models.DeliveryAttempt
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("number DESC").
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *AttemptRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.DeliveryAttempt, error) {
	var attempts []models.DeliveryAttempt
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("number ASC").
		Find(&attempts).Error
	return attempts, err
}

// Resolve moves a pending attempt to its final outcome. It returns
// ErrAttemptResolved when the attempt is no longer pending.
func (r *AttemptRepository) Resolve(ctx context.Context, attemptID uuid.UUID, outcome enums.AttemptOutcome, reason *string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryAttempt{}).
		Where("id = ? AND outcome = ?", attemptID, enums.AttemptOutcomePending).
		Updates(map[string]any{
			"outcome":        outcome,
			"failure_reason": reason,
			"resolved_at":    at,
			"updated_at":     at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAttemptResolved
	}
	return nil
}

// ListStalePending returns pending attempts submitted before cutoff whose
// order is still dispatched, oldest first.
func (r *AttemptRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.DeliveryAttempt, error) {
	var attempts []models.DeliveryAttempt
	err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = delivery_attempts.order_id").
		Where("delivery_attempts.outcome = ? AND delivery_attempts.submitted_at < ?", enums.AttemptOutcomePending, cutoff).
		Where("orders.state = ?", enums.OrderStateDispatched).
		Order("delivery_attempts.submitted_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
