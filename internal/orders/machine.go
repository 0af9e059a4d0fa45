package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/internal/delivery"
	"github.com/coinsacademy/topup-backend/internal/wallet"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/outbox/payloads"
)

const reasonProviderUnavailable = "provider_unavailable"

// ErrNotDispatchable reports that an order cannot take a dispatch lease right
// now: it is terminal, leased, or waiting on a pending attempt.
var ErrNotDispatchable = errors.New("order not dispatchable")

type walletLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64, orderID uuid.UUID) (*wallet.Reservation, error)
	Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	Refund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
}

type loyaltyAwarder interface {
	AwardOrderPoints(ctx context.Context, tx *gorm.DB, userID uuid.UUID, totalPrice int64) (int64, error)
}

// MachineParams wires the order state machine.
type MachineParams struct {
	Orders   Repository
	Attempts *delivery.AttemptRepository
	Wallet   walletLedger
	Loyalty  loyaltyAwarder
	Outbox   outbox.Emitter
	Metrics  *metrics.DeliveryMetrics
	Logger   *logger.Logger
	Policy   config.DeliveryConfig
	Clock    func() time.Time
}

// Machine owns every order state transition. Each method runs inside the
// caller's transaction, writes the order with a version check, moves money
// through the wallet and queues the matching outbox event.
type Machine struct {
	orders   Repository
	attempts *delivery.AttemptRepository
	wallet   walletLedger
	loyalty  loyaltyAwarder
	outbox   outbox.Emitter
	metrics  *metrics.DeliveryMetrics
	logg     *logger.Logger
	policy   config.DeliveryConfig
	now      func() time.Time
}

func NewMachine(params MachineParams) (*Machine, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Attempts == nil {
		return nil, fmt.Errorf("attempt repository required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet required")
	}
	if params.Loyalty == nil {
		return nil, fmt.Errorf("loyalty awarder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Policy.MaxAttempts <= 0 || len(params.Policy.Backoff) == 0 {
		return nil, fmt.Errorf("delivery policy requires attempts and backoff")
	}
	if params.Policy.MaxProviderErrors <= 0 {
		params.Policy.MaxProviderErrors = 20
	}
	if params.Policy.LeaseTTL <= 0 {
		params.Policy.LeaseTTL = 30 * time.Second
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Machine{
		orders:   params.Orders,
		attempts: params.Attempts,
		wallet:   params.Wallet,
		loyalty:  params.Loyalty,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		policy:   params.Policy,
		now:      now,
	}, nil
}

// Create inserts a new order in the created state.
func (m *Machine) Create(ctx context.Context, tx *gorm.DB, order *models.Order, actor *outbox.ActorRef) error {
	order.State = enums.OrderStateCreated
	order.Version = 0
	if err := m.orders.WithTx(tx).Create(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return m.emit(ctx, tx, order, enums.EventOrderCreated, actor, payloads.OrderCreatedEvent{
		OrderID:       order.ID,
		AccountID:     order.AccountID,
		ProductID:     order.ProductID,
		Quantity:      order.Quantity,
		TotalPrice:    order.TotalPrice,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
	})
}

// ReserveFunds holds the order total in the wallet and moves the order to
// funds_reserved. When the balance is short the order fails with
// insufficient_funds and reserved is false.
func (m *Machine) ReserveFunds(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	if order.State != enums.OrderStateCreated {
		return false, illegalTransition(order.State, enums.OrderStateFundsReserved)
	}
	if _, err := m.wallet.Reserve(ctx, tx, order.AccountID, order.TotalPrice, order.ID); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds) {
			return false, m.terminate(ctx, tx, order, enums.OrderStateFailed, enums.TerminalReasonInsufficientFunds)
		}
		return false, err
	}
	order.State = enums.OrderStateFundsReserved
	if err := m.save(ctx, tx, order); err != nil {
		return false, err
	}
	return true, m.emit(ctx, tx, order, enums.EventOrderFundsReserved, nil, payloads.OrderFundsReservedEvent{
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Amount:    order.TotalPrice,
	})
}

// AcquireLease marks the order as having a provider call in flight. Only one
// holder can succeed; everyone else gets ErrNotDispatchable or Conflict.
func (m *Machine) AcquireLease(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := m.lock(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if order.State != enums.OrderStateFundsReserved && order.State != enums.OrderStateDispatched {
		return nil, ErrNotDispatchable
	}
	if order.CancelRequested || leaseActive(order, now) {
		return nil, ErrNotDispatchable
	}
	if order.AttemptCount >= m.policy.MaxAttempts {
		return nil, ErrNotDispatchable
	}
	pending, err := m.hasPendingAttempt(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrNotDispatchable
	}
	until := now.Add(m.policy.LeaseTTL)
	order.DispatchLeaseUntil = &until
	if err := m.save(ctx, tx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// RecordSubmission stores the pending attempt the provider accepted and moves
// the order to dispatched. The delivery id is assigned on the first accepted
// submission and kept for every retry.
func (m *Machine) RecordSubmission(ctx context.Context, tx *gorm.DB, orderID, attemptID uuid.UUID, providerRef string) error {
	order, err := m.lock(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.State != enums.OrderStateFundsReserved && order.State != enums.OrderStateDispatched {
		m.logg.Alert(m.logg.WithOrderID(ctx, order.ID.String()), "provider accepted a delivery for a settled order", nil)
		return illegalTransition(order.State, enums.OrderStateDispatched)
	}
	now := m.now().UTC()
	attempt := &models.DeliveryAttempt{
		ID:          attemptID,
		OrderID:     order.ID,
		Number:      order.AttemptCount + 1,
		ProviderRef: providerRef,
		Outcome:     enums.AttemptOutcomePending,
		SubmittedAt: now,
	}
	if err := m.attempts.WithTx(tx).Create(ctx, attempt); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery attempt")
	}

	if order.DeliveryID == nil {
		id := uuid.New()
		order.DeliveryID = &id
	}
	order.State = enums.OrderStateDispatched
	order.AttemptCount = attempt.Number
	order.ProviderErrors = 0
	order.DispatchLeaseUntil = nil
	order.NextAttemptAt = nil
	if err := m.save(ctx, tx, order); err != nil {
		return err
	}
	return m.emit(ctx, tx, order, enums.EventOrderDispatched, nil, payloads.OrderDispatchedEvent{
		OrderID:       order.ID,
		DeliveryID:    *order.DeliveryID,
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.Number,
		ProviderRef:   providerRef,
	})
}

// RecordUnavailable handles a dispatch the provider could not take. It does
// not use up an attempt; the next try is scheduled from the provider error
// count. A pending cancel request is applied instead, and once the provider
// error budget is spent the order fails with a refund.
func (m *Machine) RecordUnavailable(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	order, err := m.lock(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.State.IsTerminal() {
		return nil
	}
	order.DispatchLeaseUntil = nil
	if order.CancelRequested {
		return m.terminate(ctx, tx, order, enums.OrderStateCancelled, cancelReason(order))
	}
	order.ProviderErrors++
	if order.ProviderErrors >= m.policy.MaxProviderErrors {
		return m.terminate(ctx, tx, order, enums.OrderStateFailed, enums.TerminalReasonProviderDown)
	}
	next := m.now().UTC().Add(m.backoff(order.ProviderErrors))
	order.NextAttemptAt = &next
	if err := m.save(ctx, tx, order); err != nil {
		return err
	}
	return m.emit(ctx, tx, order, enums.EventOrderRetryScheduled, nil, payloads.OrderRetryScheduledEvent{
		OrderID:       order.ID,
		AttemptNumber: order.AttemptCount,
		Reason:        reasonProviderUnavailable,
		NextAttemptAt: next,
	})
}

// RecordRejected fails the order when the provider refuses its fulfillment
// data and returns the reserved funds.
func (m *Machine) RecordRejected(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	order, err := m.lock(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.State.IsTerminal() {
		return nil
	}
	order.DispatchLeaseUntil = nil
	return m.terminate(ctx, tx, order, enums.OrderStateFailed, enums.TerminalReasonDispatchRejected)
}

// ApplyAttemptOutcome advances the order after one of its attempts resolved.
// Success wins over a pending cancel request.
func (m *Machine) ApplyAttemptOutcome(ctx context.Context, tx *gorm.DB, attempt *models.DeliveryAttempt) error {
	order, err := m.lock(ctx, tx, attempt.OrderID)
	if err != nil {
		return err
	}
	if order.State != enums.OrderStateDispatched {
		return illegalTransition(order.State, enums.OrderStateDelivered)
	}

	switch attempt.Outcome {
	case enums.AttemptOutcomeSucceeded:
		return m.deliver(ctx, tx, order, attempt)
	case enums.AttemptOutcomeFailed:
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "attempt is not resolved")
	}

	if order.CancelRequested {
		return m.terminate(ctx, tx, order, enums.OrderStateCancelled, cancelReason(order))
	}
	if order.AttemptCount < m.policy.MaxAttempts {
		next := m.now().UTC().Add(m.backoff(order.AttemptCount))
		order.NextAttemptAt = &next
		if err := m.save(ctx, tx, order); err != nil {
			return err
		}
		reason := ""
		if attempt.FailureReason != nil {
			reason = *attempt.FailureReason
		}
		return m.emit(ctx, tx, order, enums.EventOrderRetryScheduled, nil, payloads.OrderRetryScheduledEvent{
			OrderID:       order.ID,
			AttemptNumber: attempt.Number,
			Reason:        reason,
			NextAttemptAt: next,
		})
	}

	terminal := enums.TerminalReasonDeliveryFailed
	if attempt.FailureReason != nil && *attempt.FailureReason == delivery.FailureReasonTimeout {
		terminal = enums.TerminalReasonDeliveryTimeout
	}
	return m.terminate(ctx, tx, order, enums.OrderStateFailed, terminal)
}

// RequestCancel cancels the order, or records the request when a provider call
// or a pending attempt is in flight. It reports whether the cancel was applied.
func (m *Machine) RequestCancel(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason enums.TerminalReason, actor *outbox.ActorRef) (*models.Order, bool, error) {
	order, err := m.lock(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}
	if order.State.IsTerminal() {
		return nil, false, pkgerrors.New(pkgerrors.CodeConflict, "order can no longer be cancelled").
			WithDetails(map[string]any{"state": order.State})
	}

	pending, err := m.hasPendingAttempt(ctx, tx, order.ID)
	if err != nil {
		return nil, false, err
	}
	if pending || leaseActive(order, m.now().UTC()) {
		if order.CancelRequested {
			return order, false, nil
		}
		order.CancelRequested = true
		order.CancelReason = &reason
		if err := m.save(ctx, tx, order); err != nil {
			return nil, false, err
		}
		return order, false, nil
	}

	order.CancelRequested = true
	order.CancelReason = &reason
	if err := m.terminateAs(ctx, tx, order, enums.OrderStateCancelled, reason, actor); err != nil {
		return nil, false, err
	}
	return order, true, nil
}

// ApplyPendingCancel settles a recorded cancel request once nothing is in
// flight. It reports whether the order was cancelled.
func (m *Machine) ApplyPendingCancel(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	order, err := m.lock(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	if order.State.IsTerminal() || !order.CancelRequested || leaseActive(order, m.now().UTC()) {
		return false, nil
	}
	pending, err := m.hasPendingAttempt(ctx, tx, order.ID)
	if err != nil || pending {
		return false, err
	}
	if err := m.terminate(ctx, tx, order, enums.OrderStateCancelled, cancelReason(order)); err != nil {
		return false, err
	}
	return true, nil
}

// MarkCancelRequested records a cancel request without settling it. It is used
// when settling failed so the retry job can finish the cancel later.
func (m *Machine) MarkCancelRequested(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason enums.TerminalReason) error {
	order, err := m.lock(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.State.IsTerminal() || order.CancelRequested {
		return nil
	}
	order.CancelRequested = true
	order.CancelReason = &reason
	return m.save(ctx, tx, order)
}

func (m *Machine) deliver(ctx context.Context, tx *gorm.DB, order *models.Order, attempt *models.DeliveryAttempt) error {
	if err := m.wallet.Commit(ctx, tx, order.ID); err != nil {
		return err
	}
	points, err := m.loyalty.AwardOrderPoints(ctx, tx, order.AccountID, order.TotalPrice)
	if err != nil {
		return err
	}
	order.State = enums.OrderStateDelivered
	order.CancelRequested = false
	order.CancelReason = nil
	order.NextAttemptAt = nil
	order.DispatchLeaseUntil = nil
	if err := m.save(ctx, tx, order); err != nil {
		return err
	}
	deliveryID := uuid.Nil
	if order.DeliveryID != nil {
		deliveryID = *order.DeliveryID
	}
	return m.emit(ctx, tx, order, enums.EventOrderDelivered, nil, payloads.OrderDeliveredEvent{
		OrderID:       order.ID,
		AccountID:     order.AccountID,
		DeliveryID:    deliveryID,
		AttemptNumber: attempt.Number,
		TotalPrice:    order.TotalPrice,
		PointsAwarded: points,
	})
}

func (m *Machine) terminate(ctx context.Context, tx *gorm.DB, order *models.Order, state enums.OrderState, reason enums.TerminalReason) error {
	return m.terminateAs(ctx, tx, order, state, reason, nil)
}

// terminateAs ends the order in failed or cancelled. Orders that held funds
// are refunded in the same transaction; a refund failure aborts it.
func (m *Machine) terminateAs(ctx context.Context, tx *gorm.DB, order *models.Order, state enums.OrderState, reason enums.TerminalReason, actor *outbox.ActorRef) error {
	var refunded int64
	if order.State == enums.OrderStateFundsReserved || order.State == enums.OrderStateDispatched {
		if _, err := m.wallet.Refund(ctx, tx, order.ID); err != nil {
			m.metrics.IncRefundFailure()
			alertCtx := m.logg.WithFields(m.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
				"account_id": order.AccountID.String(),
				"amount":     order.TotalPrice,
				"reason":     reason,
			})
			m.logg.Alert(alertCtx, "refund failed; order left open for retry", err)
			return err
		}
		refunded = order.TotalPrice
	}

	order.State = state
	order.TerminalReason = &reason
	order.DispatchLeaseUntil = nil
	order.NextAttemptAt = nil
	if err := m.save(ctx, tx, order); err != nil {
		return err
	}

	if state == enums.OrderStateCancelled {
		return m.emit(ctx, tx, order, enums.EventOrderCancelled, actor, payloads.OrderCancelledEvent{
			OrderID:   order.ID,
			AccountID: order.AccountID,
			Reason:    reason,
			Refunded:  refunded,
		})
	}
	return m.emit(ctx, tx, order, enums.EventOrderFailed, actor, payloads.OrderFailedEvent{
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Reason:    reason,
		Refunded:  refunded,
	})
}

func (m *Machine) lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := m.orders.WithTx(tx).LockByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (m *Machine) save(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if err := m.orders.WithTx(tx).Save(ctx, order); err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order modified concurrently")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	return nil
}

func (m *Machine) hasPendingAttempt(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	_, err := m.attempts.WithTx(tx).FindPendingByOrder(ctx, orderID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending attempt")
}

func (m *Machine) emit(ctx context.Context, tx *gorm.DB, order *models.Order, eventType enums.OutboxEventType, actor *outbox.ActorRef, data any) error {
	err := m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data:          data,
		OccurredAt:    m.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order event")
	}
	return nil
}

// backoff returns the wait after the nth failure, holding at the last entry.
func (m *Machine) backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > len(m.policy.Backoff) {
		n = len(m.policy.Backoff)
	}
	return m.policy.Backoff[n-1]
}

func leaseActive(order *models.Order, now time.Time) bool {
	return order.DispatchLeaseUntil != nil && order.DispatchLeaseUntil.After(now)
}

func cancelReason(order *models.Order) enums.TerminalReason {
	if order.CancelReason != nil {
		return *order.CancelReason
	}
	return enums.TerminalReasonUserCancelled
}

func illegalTransition(from, to enums.OrderState) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal order transition").
		WithDetails(map[string]any{"from": from, "to": to})
}
