package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// DeliveryAttempt records one submission of an order to the provider.
type DeliveryAttempt struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_delivery_attempts_order_number,priority:1;uniqueIndex:ux_delivery_attempts_order_pending,where:outcome = 'pending'"`
	Number        int                  `gorm:"column:number;not null;uniqueIndex:ux_delivery_attempts_order_number,priority:2"`
	ProviderRef   string               `gorm:"column:provider_ref;type:text;not null;uniqueIndex"`
	Outcome       enums.AttemptOutcome `gorm:"column:outcome;type:text;not null;index:idx_delivery_attempts_outcome_submitted,priority:1"`
	FailureReason *string              `gorm:"column:failure_reason;type:text"`
	SubmittedAt   time.Time            `gorm:"column:submitted_at;not null;index:idx_delivery_attempts_outcome_submitted,priority:2"`
	ResolvedAt    *time.Time           `gorm:"column:resolved_at"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *DeliveryAttempt) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
