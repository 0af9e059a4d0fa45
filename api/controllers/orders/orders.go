package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/api/controllers/requestctx"
	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/api/validators"
	internalorders "github.com/coinsacademy/topup-backend/internal/orders"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

// Service is the slice of the order façade the HTTP layer needs.
type Service interface {
	CreateOrder(ctx context.Context, accountID uuid.UUID, input internalorders.CreateOrderInput) (*internalorders.CreateOrderResult, error)
	GetOrder(ctx context.Context, accountID, orderID uuid.UUID) (*internalorders.OrderDTO, error)
	ListOrders(ctx context.Context, accountID uuid.UUID, input internalorders.ListOrdersInput) (*internalorders.OrderPage, error)
	GetDeliveryStatus(ctx context.Context, accountID, deliveryID uuid.UUID) (*internalorders.DeliveryStatusDTO, error)
	CancelOrder(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*internalorders.OrderDTO, error)
}

// Create places an order paid from the caller's wallet.
func Create(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body internalorders.CreateOrderInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrder(r.Context(), userID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// List returns the caller's orders, newest first.
func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		state := strings.TrimSpace(r.URL.Query().Get("status"))
		if state != "" {
			if _, err := enums.ParseOrderState(state); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
		}

		page, err := svc.ListOrders(r.Context(), userID, internalorders.ListOrdersInput{
			State:  state,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Detail returns one of the caller's orders.
func Detail(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := requestctx.URLParamUUID(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// DeliveryStatus reports the latest provider attempt behind a delivery id.
func DeliveryStatus(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deliveryID, err := requestctx.URLParamUUID(r, "deliveryId", "delivery id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.GetDeliveryStatus(r.Context(), userID, deliveryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// Cancel cancels the caller's order. While a provider call is in flight the
// request is recorded and 202 is returned; the order settles once the
// provider answers.
func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := requestctx.URLParamUUID(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := internalorders.Actor{UserID: userID, Role: requestctx.ResolveRole(r)}
		order, err := svc.CancelOrder(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if order.CancelRequested && !order.Status.IsTerminal() {
			responses.WriteSuccessStatus(w, http.StatusAccepted, order)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
