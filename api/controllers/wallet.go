package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/api/controllers/requestctx"
	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/api/validators"
	"github.com/coinsacademy/topup-backend/internal/wallet"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

// WalletReader serves the buyer wallet views.
type WalletReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (*wallet.BalanceDTO, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*wallet.EntryPage, error)
}

// WalletAdjuster applies operator deposits and withdrawals.
type WalletAdjuster interface {
	Deposit(ctx context.Context, input wallet.AdjustmentInput) (*wallet.BalanceDTO, error)
	Withdraw(ctx context.Context, input wallet.AdjustmentInput) (*wallet.BalanceDTO, error)
}

func WalletBalance(svc WalletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// WalletTransactions pages through the caller's ledger, newest first.
func WalletTransactions(svc WalletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
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

		page, err := svc.ListEntries(r.Context(), userID, pagination.Params{
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
