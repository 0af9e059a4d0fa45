package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when an order row is first written.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	AccountID     uuid.UUID           `json:"account_id"`
	ProductID     uuid.UUID           `json:"product_id"`
	Quantity      int                 `json:"quantity"`
	TotalPrice    int64               `json:"total_price"`
	Currency      string              `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
}

// OrderFundsReservedEvent confirms the wallet hold for an order.
type OrderFundsReservedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	AccountID uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
}

// OrderDispatchedEvent is emitted for every accepted provider submission.
type OrderDispatchedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	DeliveryID    uuid.UUID `json:"delivery_id"`
	AttemptID     uuid.UUID `json:"attempt_id"`
	AttemptNumber int       `json:"attempt_number"`
	ProviderRef   string    `json:"provider_ref"`
}

// OrderRetryScheduledEvent records a failed attempt that will be retried, or a
// provider outage that postponed the dispatch.
type OrderRetryScheduledEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	AttemptNumber int       `json:"attempt_number"`
	Reason        string    `json:"reason"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// OrderDeliveredEvent is emitted once the provider confirms delivery.
type OrderDeliveredEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	AccountID     uuid.UUID `json:"account_id"`
	DeliveryID    uuid.UUID `json:"delivery_id"`
	AttemptNumber int       `json:"attempt_number"`
	TotalPrice    int64     `json:"total_price"`
	PointsAwarded int64     `json:"points_awarded"`
}

// OrderFailedEvent is emitted when an order terminates without delivery.
type OrderFailedEvent struct {
	OrderID   uuid.UUID            `json:"order_id"`
	AccountID uuid.UUID            `json:"account_id"`
	Reason    enums.TerminalReason `json:"reason"`
	Refunded  int64                `json:"refunded"`
}

// OrderCancelledEvent is emitted when a cancel request is applied.
type OrderCancelledEvent struct {
	OrderID   uuid.UUID            `json:"order_id"`
	AccountID uuid.UUID            `json:"account_id"`
	Reason    enums.TerminalReason `json:"reason"`
	Refunded  int64                `json:"refunded"`
}

// WalletAdjustedEvent covers operator deposits and withdrawals and the
// welcome credit.
type WalletAdjustedEvent struct {
	AccountID uuid.UUID          `json:"account_id"`
	Delta     int64              `json:"delta"`
	Reason    enums.LedgerReason `json:"reason"`
	Balance   int64              `json:"balance"`
	Note      string             `json:"note,omitempty"`
}
