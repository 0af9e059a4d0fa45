package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

// CreateOrderInput is the buyer's order request.
type CreateOrderInput struct {
	ProductID       uuid.UUID             `json:"productId" validate:"required"`
	FulfillmentData types.FulfillmentData `json:"fulfillmentData"`
	Quantity        *int                  `json:"quantity,omitempty"`
	PaymentMethod   string                `json:"paymentMethod" validate:"required"`
}

// CreateOrderResult is returned once the order was stored and, when the
// provider could be reached, dispatched.
type CreateOrderResult struct {
	OrderID    uuid.UUID        `json:"orderId"`
	DeliveryID *uuid.UUID       `json:"deliveryId,omitempty"`
	Status     enums.OrderState `json:"status"`
}

// ListOrdersInput filters the buyer's order history.
type ListOrdersInput struct {
	State  string
	Limit  int
	Cursor string
}

// Actor identifies who is acting on an order.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// IsOperator reports whether the actor may act on any order.
func (a Actor) IsOperator() bool {
	return a.Role == enums.UserRoleOperator
}

// OrderDTO is the order view returned to buyers and operators.
type OrderDTO struct {
	ID              uuid.UUID             `json:"id"`
	ProductID       uuid.UUID             `json:"productId"`
	GameID          string                `json:"gameId"`
	Quantity        int                   `json:"quantity"`
	UnitPrice       types.Money           `json:"unitPrice"`
	TotalPrice      types.Money           `json:"totalPrice"`
	FulfillmentData types.FulfillmentData `json:"fulfillmentData"`
	PaymentMethod   enums.PaymentMethod   `json:"paymentMethod"`
	Status          enums.OrderState      `json:"status"`
	TerminalReason  *enums.TerminalReason `json:"terminalReason,omitempty"`
	DeliveryID      *uuid.UUID            `json:"deliveryId,omitempty"`
	AttemptCount    int                   `json:"attemptCount"`
	CancelRequested bool                  `json:"cancelRequested"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// OrderPage is one page of the buyer's orders.
type OrderPage struct {
	Items  []OrderDTO `json:"items"`
	Cursor string     `json:"cursor"`
}

// AttemptDTO describes one provider submission.
type AttemptDTO struct {
	ID            uuid.UUID            `json:"id"`
	Number        int                  `json:"number"`
	Outcome       enums.AttemptOutcome `json:"outcome"`
	FailureReason *string              `json:"failureReason,omitempty"`
	SubmittedAt   time.Time            `json:"submittedAt"`
	ResolvedAt    *time.Time           `json:"resolvedAt,omitempty"`
}

// DeliveryStatusDTO pairs the order state with its latest attempt.
type DeliveryStatusDTO struct {
	DeliveryID     uuid.UUID             `json:"deliveryId"`
	OrderID        uuid.UUID             `json:"orderId"`
	OrderStatus    enums.OrderState      `json:"orderStatus"`
	TerminalReason *enums.TerminalReason `json:"terminalReason,omitempty"`
	LatestAttempt  *AttemptDTO           `json:"latestAttempt,omitempty"`
}

func toOrderDTO(o *models.Order) *OrderDTO {
	return &OrderDTO{
		ID:              o.ID,
		ProductID:       o.ProductID,
		GameID:          o.GameID,
		Quantity:        o.Quantity,
		UnitPrice:       types.NewMoney(o.UnitPrice, o.Currency),
		TotalPrice:      types.NewMoney(o.TotalPrice, o.Currency),
		FulfillmentData: o.FulfillmentData,
		PaymentMethod:   o.PaymentMethod,
		Status:          o.State,
		TerminalReason:  o.TerminalReason,
		DeliveryID:      o.DeliveryID,
		AttemptCount:    o.AttemptCount,
		CancelRequested: o.CancelRequested,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toAttemptDTO(a *models.DeliveryAttempt) *AttemptDTO {
	return &AttemptDTO{
		ID:            a.ID,
		Number:        a.Number,
		Outcome:       a.Outcome,
		FailureReason: a.FailureReason,
		SubmittedAt:   a.SubmittedAt,
		ResolvedAt:    a.ResolvedAt,
	}
}
