package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// LedgerEntry is an append-only wallet movement.
type LedgerEntry struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	AccountID uuid.UUID          `gorm:"column:account_id;type:uuid;not null;index:idx_ledger_entries_account_created,priority:1"`
	Delta     int64              `gorm:"column:delta;not null"`
	Reason    enums.LedgerReason `gorm:"column:reason;type:text;not null;uniqueIndex:ux_ledger_entries_order_reason,priority:2,where:order_id IS NOT NULL"`
	OrderID   *uuid.UUID         `gorm:"column:order_id;type:uuid;uniqueIndex:ux_ledger_entries_order_reason,priority:1,where:order_id IS NOT NULL"`
	Note      *string            `gorm:"column:note;type:text"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime;index:idx_ledger_entries_account_created,priority:2"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
