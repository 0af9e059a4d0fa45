package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is the wallet owned by a user. Balance is the running sum of the
// account's ledger entries and is only written alongside a new entry.
type Account struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Balance   int64     `gorm:"column:balance;not null;default:0;check:chk_accounts_balance_non_negative,balance >= 0"`
	Currency  string    `gorm:"column:currency;type:text;not null"`
	Version   int       `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
