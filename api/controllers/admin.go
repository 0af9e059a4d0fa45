package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/api/controllers/requestctx"
	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/api/validators"
	internalorders "github.com/coinsacademy/topup-backend/internal/orders"
	"github.com/coinsacademy/topup-backend/internal/wallet"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

type adjustmentRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Note   string `json:"note" validate:"max=255"`
}

type orderCanceller interface {
	CancelOrder(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*internalorders.OrderDTO, error)
}

// AdminDeposit credits an account in minor units.
func AdminDeposit(svc WalletAdjuster, logg *logger.Logger) http.HandlerFunc {
	return adminAdjust(svc, logg, enums.LedgerReasonDeposit)
}

// AdminWithdraw debits an account; it never drives the balance negative.
func AdminWithdraw(svc WalletAdjuster, logg *logger.Logger) http.HandlerFunc {
	return adminAdjust(svc, logg, enums.LedgerReasonWithdraw)
}

func adminAdjust(svc WalletAdjuster, logg *logger.Logger, reason enums.LedgerReason) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		operatorID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		accountID, err := requestctx.URLParamUUID(r, "accountId", "account id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body adjustmentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := wallet.AdjustmentInput{
			AccountID: accountID,
			Amount:    body.Amount,
			Note:      validators.SanitizeString(body.Note, 255),
			ActorID:   operatorID,
		}
		var balance *wallet.BalanceDTO
		if reason == enums.LedgerReasonDeposit {
			balance, err = svc.Deposit(r.Context(), input)
		} else {
			balance, err = svc.Withdraw(r.Context(), input)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// AdminCancelOrder lets an operator cancel any non-terminal order.
func AdminCancelOrder(svc orderCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		operatorID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := requestctx.URLParamUUID(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CancelOrder(r.Context(), internalorders.Actor{UserID: operatorID, Role: enums.UserRoleOperator}, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
