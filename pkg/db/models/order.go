package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

// Order is a single top-up purchase. Prices are snapshotted at creation.
type Order struct {
	ID                 uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	AccountID          uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index:idx_orders_account_created,priority:1"`
	ProductID          uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	GameID             string                `gorm:"column:game_id;type:text;not null"`
	Quantity           int                   `gorm:"column:quantity;not null"`
	UnitPrice          int64                 `gorm:"column:unit_price;not null"`
	TotalPrice         int64                 `gorm:"column:total_price;not null"`
	Currency           string                `gorm:"column:currency;type:text;not null"`
	FulfillmentData    types.FulfillmentData `gorm:"column:fulfillment_data;type:jsonb;not null"`
	PaymentMethod      enums.PaymentMethod   `gorm:"column:payment_method;type:text;not null"`
	State              enums.OrderState      `gorm:"column:state;type:text;not null;index"`
	TerminalReason     *enums.TerminalReason `gorm:"column:terminal_reason;type:text"`
	DeliveryID         *uuid.UUID            `gorm:"column:delivery_id;type:uuid;uniqueIndex"`
	AttemptCount       int                   `gorm:"column:attempt_count;not null;default:0"`
	CancelRequested    bool                  `gorm:"column:cancel_requested;not null;default:false"`
	CancelReason       *enums.TerminalReason `gorm:"column:cancel_reason;type:text"`
	DispatchLeaseUntil *time.Time            `gorm:"column:dispatch_lease_until"`
	NextAttemptAt      *time.Time            `gorm:"column:next_attempt_at"`
	ProviderErrors     int                   `gorm:"column:provider_errors;not null;default:0"`
	Version            int                   `gorm:"column:version;not null;default:0"`
	CreatedAt          time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_orders_account_created,priority:2"`
	UpdatedAt          time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
