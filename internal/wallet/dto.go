package wallet

import (
	"time"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

// Reservation is the hold placed on an account for one order.
type Reservation struct {
	OrderID      uuid.UUID
	AccountID    uuid.UUID
	Amount       int64
	BalanceAfter int64
}

// BalanceDTO is the public wallet summary.
type BalanceDTO struct {
	AccountID uuid.UUID   `json:"accountId"`
	Balance   types.Money `json:"balance"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// EntryDTO is one ledger movement as shown to the account owner.
type EntryDTO struct {
	ID        uuid.UUID          `json:"id"`
	Amount    types.Money        `json:"amount"`
	Reason    enums.LedgerReason `json:"reason"`
	OrderID   *uuid.UUID         `json:"orderId,omitempty"`
	Note      *string            `json:"note,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// EntryPage wraps a page of entries and the cursor for the next one.
type EntryPage struct {
	Items  []EntryDTO `json:"items"`
	Cursor string     `json:"cursor"`
}

// AdjustmentInput carries an operator deposit or withdrawal.
type AdjustmentInput struct {
	AccountID uuid.UUID
	Amount    int64
	Note      string
	ActorID   uuid.UUID
}

func toBalanceDTO(account *models.Account) *BalanceDTO {
	return &BalanceDTO{
		AccountID: account.ID,
		Balance:   types.NewMoney(account.Balance, account.Currency),
		UpdatedAt: account.UpdatedAt,
	}
}

func toEntryDTO(entry models.LedgerEntry, currency string) EntryDTO {
	return EntryDTO{
		ID:        entry.ID,
		Amount:    types.NewMoney(entry.Delta, currency),
		Reason:    entry.Reason,
		OrderID:   entry.OrderID,
		Note:      entry.Note,
		CreatedAt: entry.CreatedAt,
	}
}
