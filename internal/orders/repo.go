package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

// ErrVersionMismatch reports that the order row changed since it was read.
var ErrVersionMismatch = errors.New("order version mismatch")

// Repository defines persistence operations for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*models.Order, error)
	Save(ctx context.Context, order *models.Order) error
	ListForAccount(ctx context.Context, params listParams) ([]models.Order, *pagination.Cursor, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
}

type listParams struct {
	AccountID uuid.UUID
	State     *enums.OrderState
	Limit     int
	Cursor    *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("delivery_id = ?", deliveryID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// Save writes the mutable lifecycle columns guarded by the version the order
// was read at. On success order.Version is advanced.
func (r *repository) Save(ctx context.Context, order *models.Order) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]any{
			"state":                order.State,
			"terminal_reason":      order.TerminalReason,
			"delivery_id":          order.DeliveryID,
			"attempt_count":        order.AttemptCount,
			"cancel_requested":     order.CancelRequested,
			"cancel_reason":        order.CancelReason,
			"dispatch_lease_until": order.DispatchLeaseUntil,
			"next_attempt_at":      order.NextAttemptAt,
			"provider_errors":      order.ProviderErrors,
			"version":              gorm.Expr("version + 1"),
			"updated_at":           now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionMismatch
	}
	order.Version++
	order.UpdatedAt = now
	return nil
}

func (r *repository) ListForAccount(ctx context.Context, params listParams) ([]models.Order, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("account_id = ?", params.AccountID)
	if params.State != nil {
		query = query.Where("state = ?", *params.State)
	}

	var rows []models.Order
	if err := pagination.Keyset(query, params.Cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Split(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, next, nil
}

// ListDue returns non-terminal orders the retry job should act on: no pending
// attempt, no live dispatch lease, and either a cancel request or a due (or
// missing) next attempt time.
func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("state IN ?", []enums.OrderState{enums.OrderStateFundsReserved, enums.OrderStateDispatched}).
		Where("(dispatch_lease_until IS NULL OR dispatch_lease_until < ?)", now).
		Where("(cancel_requested = ? OR next_attempt_at IS NULL OR next_attempt_at <= ?)", true, now).
		Where("NOT EXISTS (SELECT 1 FROM delivery_attempts da WHERE da.order_id = orders.id AND da.outcome = ?)", enums.AttemptOutcomePending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
