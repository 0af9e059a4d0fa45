package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/internal/catalog"
	"github.com/coinsacademy/topup-backend/internal/delivery"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	LoadProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type deliveryDispatcher interface {
	Dispatch(ctx context.Context, order *models.Order, reference uuid.UUID) (*delivery.Submission, error)
	HandleCallback(ctx context.Context, raw []byte, signature string) (*delivery.Resolution, error)
	ReconcileAttempt(ctx context.Context, attempt *models.DeliveryAttempt, queryStatus bool) (*delivery.Resolution, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	DB         txRunner
	Orders     Repository
	Attempts   *delivery.AttemptRepository
	Catalog    productLoader
	Machine    *Machine
	Dispatcher deliveryDispatcher
	Logger     *logger.Logger
	Provider   config.ProviderConfig
	Clock      func() time.Time
}

// Service is the entry point for buyers, operators, the provider webhook and
// the cron worker.
type Service struct {
	db         txRunner
	orders     Repository
	attempts   *delivery.AttemptRepository
	catalog    productLoader
	machine    *Machine
	dispatcher deliveryDispatcher
	logg       *logger.Logger
	provider   config.ProviderConfig
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Attempts == nil {
		return nil, fmt.Errorf("attempt repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Machine == nil {
		return nil, fmt.Errorf("order machine required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:         params.DB,
		orders:     params.Orders,
		attempts:   params.Attempts,
		catalog:    params.Catalog,
		machine:    params.Machine,
		dispatcher: params.Dispatcher,
		logg:       params.Logger,
		provider:   params.Provider,
		now:        now,
	}, nil
}

// CreateOrder prices the request, reserves the total in the buyer's wallet
// and makes the first dispatch. A provider outage is not an error: the order
// stays funds_reserved and the retry job picks it up.
func (s *Service) CreateOrder(ctx context.Context, accountID uuid.UUID, input CreateOrderInput) (*CreateOrderResult, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account required")
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "productId is required")
	}
	method, err := enums.ParsePaymentMethod(input.PaymentMethod)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]string{"paymentMethod": input.PaymentMethod})
	}
	if !method.Settleable() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only wallet payments are supported").
			WithDetails(map[string]string{"paymentMethod": string(method)})
	}

	product, err := s.catalog.LoadProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	quantity := product.DefaultQuantity
	if input.Quantity != nil {
		quantity = *input.Quantity
	}
	if quantity < product.MinQuantity || quantity > product.MaxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity out of range").
			WithDetails(map[string]int{"min": product.MinQuantity, "max": product.MaxQuantity, "quantity": quantity})
	}
	fulfillment, err := catalog.ValidateFulfillment(product.FulfillmentSchema, input.FulfillmentData)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:              uuid.New(),
		AccountID:       accountID,
		ProductID:       product.ID,
		GameID:          product.GameID,
		Quantity:        quantity,
		UnitPrice:       product.UnitPrice,
		TotalPrice:      product.UnitPrice * int64(quantity),
		Currency:        product.Currency,
		FulfillmentData: fulfillment,
		PaymentMethod:   method,
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	reserved := false
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		actor := &outbox.ActorRef{UserID: accountID, Role: enums.UserRoleCustomer}
		if err := s.machine.Create(ctx, tx, order, actor); err != nil {
			return err
		}
		ok, err := s.machine.ReserveFunds(ctx, tx, order)
		reserved = ok
		return err
	})
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
			WithDetails(map[string]any{"orderId": order.ID, "required": order.TotalPrice})
	}

	current, err := s.dispatch(ctx, order.ID)
	if err != nil {
		s.logg.Error(ctx, "initial dispatch failed; left for retry", err)
		current = order
	}
	return &CreateOrderResult{
		OrderID:    current.ID,
		DeliveryID: current.DeliveryID,
		Status:     current.State,
	}, nil
}

// GetOrder returns one of the account's orders. Orders of other accounts are
// reported as missing.
func (s *Service) GetOrder(ctx context.Context, accountID, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.loadOwned(ctx, Actor{UserID: accountID, Role: enums.UserRoleCustomer}, orderID)
	if err != nil {
		return nil, err
	}
	return toOrderDTO(order), nil
}

// ListOrders pages through the account's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, accountID uuid.UUID, input ListOrdersInput) (*OrderPage, error) {
	params := listParams{AccountID: accountID, Limit: input.Limit}
	if raw := strings.TrimSpace(input.State); raw != "" {
		state, err := enums.ParseOrderState(strings.ToLower(raw))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		params.State = &state
	}
	if input.Cursor != "" {
		cursor, err := pagination.ParseCursor(input.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		params.Cursor = cursor
	}

	rows, next, err := s.orders.ListForAccount(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	page := &OrderPage{Items: make([]OrderDTO, 0, len(rows))}
	for i := range rows {
		page.Items = append(page.Items, *toOrderDTO(&rows[i]))
	}
	if next != nil {
		page.Cursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// GetDeliveryStatus reports the latest attempt for a delivery. An attempt left
// pending past the provider timeout is reconciled first.
func (s *Service) GetDeliveryStatus(ctx context.Context, accountID, deliveryID uuid.UUID) (*DeliveryStatusDTO, error) {
	order, err := s.orders.FindByDeliveryID(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	if order.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
	}
	ctx = s.logg.WithDeliveryID(s.logg.WithOrderID(ctx, order.ID.String()), deliveryID.String())

	if order.State == enums.OrderStateDispatched {
		if _, err := s.ReconcileOrder(ctx, order.ID); err != nil {
			s.logg.Warn(ctx, "on-demand reconciliation failed: "+err.Error())
		}
		if order, err = s.orders.FindByID(ctx, order.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
	}

	out := &DeliveryStatusDTO{
		DeliveryID:     deliveryID,
		OrderID:        order.ID,
		OrderStatus:    order.State,
		TerminalReason: order.TerminalReason,
	}
	latest, err := s.attempts.Latest(ctx, order.ID)
	switch {
	case err == nil:
		out.LatestAttempt = toAttemptDTO(latest)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest attempt")
	}
	return out, nil
}

// CancelOrder cancels the order or records the request until the in-flight
// provider call settles. Operators may cancel any order.
func (s *Service) CancelOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*OrderDTO, error) {
	if _, err := s.loadOwned(ctx, actor, orderID); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	reason := enums.TerminalReasonUserCancelled
	if actor.IsOperator() {
		reason = enums.TerminalReasonOperatorCancelled
	}
	ref := &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role}

	var (
		order   *models.Order
		applied bool
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, applied, err = s.machine.RequestCancel(ctx, tx, orderID, reason, ref)
		return err
	})
	if err != nil {
		if isSettleFailure(err) {
			markErr := s.db.WithTx(ctx, func(tx *gorm.DB) error {
				return s.machine.MarkCancelRequested(ctx, tx, orderID, reason)
			})
			if markErr != nil {
				s.logg.Error(ctx, "failed to record cancel request after settle failure", markErr)
			}
		}
		return nil, err
	}
	if !applied {
		s.logg.Info(ctx, "cancel requested while delivery in flight")
	}
	return toOrderDTO(order), nil
}

// HandleProviderCallback is the provider webhook entry point.
func (s *Service) HandleProviderCallback(ctx context.Context, raw []byte, signature string) (*delivery.Resolution, error) {
	return s.dispatcher.HandleCallback(ctx, raw, signature)
}

// DueOrders lists orders the retry job should act on now.
func (s *Service) DueOrders(ctx context.Context, limit int) ([]models.Order, error) {
	return s.orders.ListDue(ctx, s.now().UTC(), limit)
}

// ProcessDue settles a pending cancel request or makes the next dispatch for
// an order returned by DueOrders.
func (s *Service) ProcessDue(ctx context.Context, order models.Order) error {
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if order.CancelRequested {
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.machine.ApplyPendingCancel(ctx, tx, order.ID)
			return err
		})
	}
	_, err := s.dispatch(ctx, order.ID)
	return err
}

// ReconcileOrder resolves the order's pending attempt when it has been
// waiting longer than the provider timeout. It reports whether an attempt
// was settled.
func (s *Service) ReconcileOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	attempt, err := s.attempts.FindPendingByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending attempt")
	}
	if s.now().UTC().Sub(attempt.SubmittedAt) <= s.provider.PendingTimeout {
		return false, nil
	}
	res, err := s.dispatcher.ReconcileAttempt(ctx, attempt, s.provider.StatusQueryEnabled)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeConflict) {
			return false, nil
		}
		return false, err
	}
	return res.Result == delivery.ResultApplied, nil
}

// dispatch takes the lease, submits the order outside any transaction and
// records what the provider answered.
func (s *Service) dispatch(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.machine.AcquireLease(ctx, tx, orderID)
		return err
	})
	if errors.Is(err, ErrNotDispatchable) || pkgerrors.Is(err, pkgerrors.CodeConflict) {
		return s.reload(ctx, orderID)
	}
	if err != nil {
		return nil, err
	}

	attemptID := uuid.New()
	sub, dispatchErr := s.dispatcher.Dispatch(ctx, order, attemptID)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		switch {
		case dispatchErr == nil:
			return s.machine.RecordSubmission(ctx, tx, orderID, attemptID, sub.ProviderRef)
		case pkgerrors.Is(dispatchErr, pkgerrors.CodeInvalidFulfillmentData):
			return s.machine.RecordRejected(ctx, tx, orderID)
		default:
			s.logg.Warn(s.logg.WithField(ctx, "error", dispatchErr.Error()), "provider unavailable; dispatch postponed")
			return s.machine.RecordUnavailable(ctx, tx, orderID)
		}
	})
	if err != nil {
		if dispatchErr == nil {
			s.logg.Alert(s.logg.WithField(ctx, "provider_ref", sub.ProviderRef), "provider accepted delivery but attempt was not recorded", err)
		}
		return nil, err
	}
	return s.reload(ctx, orderID)
}

func (s *Service) reload(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return order, nil
}

func (s *Service) loadOwned(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !actor.IsOperator() && order.AccountID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// isSettleFailure separates refund and storage failures from the expected
// rejections of a cancel request.
func isSettleFailure(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	switch typed.Code() {
	case pkgerrors.CodeConflict, pkgerrors.CodeNotFound, pkgerrors.CodeStateConflict, pkgerrors.CodeValidation:
		return false
	}
	return true
}
