package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/outbox/payloads"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

const welcomeBonusNote = "welcome_bonus"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the wallet ledger.
type ServiceParams struct {
	DB         txRunner
	Repository Repository
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Currency   string
}

// Service owns every balance movement. Reserve, Commit, Refund and OpenAccount
// join the caller's transaction so money moves atomically with order state.
type Service struct {
	db       txRunner
	repo     Repository
	outbox   outbox.Emitter
	logg     *logger.Logger
	currency string
}

// NewService builds the wallet ledger service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	currency := strings.TrimSpace(params.Currency)
	if currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	return &Service{
		db:       params.DB,
		repo:     params.Repository,
		outbox:   params.Outbox,
		logg:     params.Logger,
		currency: currency,
	}, nil
}

// OpenAccount creates the wallet for a new user and books the welcome credit.
func (s *Service) OpenAccount(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, welcomeCredit int64) (*models.Account, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if welcomeCredit < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "welcome credit cannot be negative")
	}
	repo := s.repo.WithTx(tx)
	account := &models.Account{ID: accountID, Currency: s.currency}
	if err := repo.CreateAccount(ctx, account); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "account already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	if welcomeCredit == 0 {
		return account, nil
	}
	note := welcomeBonusNote
	if err := s.applyDelta(ctx, tx, account, welcomeCredit, enums.LedgerReasonDeposit, nil, &note); err != nil {
		return nil, err
	}
	if err := s.emitAdjusted(ctx, tx, account, welcomeCredit, enums.LedgerReasonDeposit, note, nil); err != nil {
		return nil, err
	}
	return account, nil
}

// Reserve holds amount against the account for orderID. It fails with
// InsufficientFunds when the balance cannot cover it.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64, orderID uuid.UUID) (*Reservation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference required")
	}
	repo := s.repo.WithTx(tx)
	account, err := s.lockAccount(ctx, repo, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := repo.ListOrderEntries(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order entries")
	}
	if findEntry(entries, enums.LedgerReasonReserve) != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already reserved")
	}
	if account.Balance < amount {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
			WithDetails(map[string]any{"balance": account.Balance, "required": amount})
	}
	if err := s.applyDelta(ctx, tx, account, -amount, enums.LedgerReasonReserve, &orderID, nil); err != nil {
		return nil, err
	}
	return &Reservation{
		OrderID:      orderID,
		AccountID:    account.ID,
		Amount:       amount,
		BalanceAfter: account.Balance,
	}, nil
}

// Commit finalizes the reservation for orderID. Committing twice is a no-op.
func (s *Service) Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	reserve, entries, err := s.lockReservation(ctx, repo, orderID)
	if err != nil {
		return err
	}
	if findEntry(entries, enums.LedgerReasonRefund) != nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "reservation already refunded")
	}
	if findEntry(entries, enums.LedgerReasonCommit) != nil {
		return nil
	}
	entry := &models.LedgerEntry{
		AccountID: reserve.AccountID,
		Delta:     0,
		Reason:    enums.LedgerReasonCommit,
		OrderID:   &orderID,
	}
	if err := repo.InsertEntry(ctx, entry); err != nil {
		// Postgres aborts the tx on a unique violation, so a racing commit
		// cannot be reported as success.
		if dbpkg.IsUniqueViolation(err, "ux_ledger_entries_order_reason") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "reservation committed concurrently")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert commit entry")
	}
	return nil
}

// Refund returns the reserved amount for orderID to the account. It reports
// false when the refund had already been booked.
func (s *Service) Refund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	reserve, entries, err := s.lockReservation(ctx, repo, orderID)
	if err != nil {
		return false, err
	}
	if findEntry(entries, enums.LedgerReasonCommit) != nil {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "reservation already committed")
	}
	if findEntry(entries, enums.LedgerReasonRefund) != nil {
		return false, nil
	}
	account, err := s.lockAccount(ctx, repo, reserve.AccountID)
	if err != nil {
		return false, err
	}
	if err := s.applyDelta(ctx, tx, account, -reserve.Delta, enums.LedgerReasonRefund, &orderID, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Deposit credits an account outside of any order.
func (s *Service) Deposit(ctx context.Context, input AdjustmentInput) (*BalanceDTO, error) {
	return s.adjust(ctx, input, enums.LedgerReasonDeposit)
}

// Withdraw debits an account outside of any order.
func (s *Service) Withdraw(ctx context.Context, input AdjustmentInput) (*BalanceDTO, error) {
	return s.adjust(ctx, input, enums.LedgerReasonWithdraw)
}

func (s *Service) adjust(ctx context.Context, input AdjustmentInput, reason enums.LedgerReason) (*BalanceDTO, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	delta := input.Amount
	if reason == enums.LedgerReasonWithdraw {
		delta = -input.Amount
	}
	var note *string
	if trimmed := strings.TrimSpace(input.Note); trimmed != "" {
		note = &trimmed
	}

	var result *models.Account
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.lockAccount(ctx, repo, input.AccountID)
		if err != nil {
			return err
		}
		if account.Balance+delta < 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
				WithDetails(map[string]any{"balance": account.Balance, "required": input.Amount})
		}
		if err := s.applyDelta(ctx, tx, account, delta, reason, nil, note); err != nil {
			return err
		}
		var actor *outbox.ActorRef
		if input.ActorID != uuid.Nil {
			actor = &outbox.ActorRef{UserID: input.ActorID, Role: enums.UserRoleOperator}
		}
		if err := s.emitAdjusted(ctx, tx, account, delta, reason, input.Note, actor); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"account_id": input.AccountID.String(),
		"reason":     reason,
		"delta":      delta,
	})
	s.logg.Info(logCtx, "wallet adjusted")
	return toBalanceDTO(result), nil
}

// Balance returns the current balance of the account.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (*BalanceDTO, error) {
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, accountLookupError(err)
	}
	return toBalanceDTO(account), nil
}

// ListEntries pages through the account ledger, newest first.
func (s *Service) ListEntries(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*EntryPage, error) {
	query := listEntriesParams{AccountID: accountID, Limit: params.Limit}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, accountLookupError(err)
	}
	rows, next, err := s.repo.ListEntries(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	page := &EntryPage{Items: make([]EntryDTO, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, toEntryDTO(row, account.Currency))
	}
	if next != nil {
		page.Cursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// VerifyBalance recomputes the ledger sum and compares it with the stored
// balance.
func (s *Service) VerifyBalance(ctx context.Context, accountID uuid.UUID) (bool, error) {
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return false, accountLookupError(err)
	}
	sum, err := s.repo.SumEntries(ctx, accountID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger entries")
	}
	return sum == account.Balance, nil
}

// VerifyAll walks every account and returns the ones whose stored balance
// disagrees with the ledger.
func (s *Service) VerifyAll(ctx context.Context, batchSize int) ([]uuid.UUID, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var (
		mismatched []uuid.UUID
		after      uuid.UUID
	)
	for {
		ids, err := s.repo.ListAccountIDs(ctx, after, batchSize)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list accounts")
		}
		for _, id := range ids {
			ok, err := s.VerifyBalance(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				mismatched = append(mismatched, id)
			}
		}
		if len(ids) < batchSize {
			return mismatched, nil
		}
		after = ids[len(ids)-1]
	}
}

func (s *Service) lockAccount(ctx context.Context, repo Repository, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	account, err := repo.LockAccount(ctx, accountID)
	if err != nil {
		return nil, accountLookupError(err)
	}
	return account, nil
}

// lockReservation finds the reserve entry for an order, locks its account and
// re-reads the order entries under that lock.
func (s *Service) lockReservation(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.LedgerEntry, []models.LedgerEntry, error) {
	if orderID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference required")
	}
	entries, err := repo.ListOrderEntries(ctx, orderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order entries")
	}
	reserve := findEntry(entries, enums.LedgerReasonReserve)
	if reserve == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	if _, err := s.lockAccount(ctx, repo, reserve.AccountID); err != nil {
		return nil, nil, err
	}
	entries, err = repo.ListOrderEntries(ctx, orderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order entries")
	}
	return findEntry(entries, enums.LedgerReasonReserve), entries, nil
}

// applyDelta appends the entry and moves the materialized balance in one step.
// account is updated in place on success.
func (s *Service) applyDelta(ctx context.Context, tx *gorm.DB, account *models.Account, delta int64, reason enums.LedgerReason, orderID *uuid.UUID, note *string) error {
	repo := s.repo.WithTx(tx)
	entry := &models.LedgerEntry{
		AccountID: account.ID,
		Delta:     delta,
		Reason:    reason,
		OrderID:   orderID,
		Note:      note,
	}
	if err := repo.InsertEntry(ctx, entry); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_ledger_entries_order_reason") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("%s already recorded for order", reason))
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
	}
	balance := account.Balance + delta
	if err := repo.UpdateBalance(ctx, account.ID, account.Version, balance); err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "account modified concurrently")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balance")
	}
	account.Balance = balance
	account.Version++
	return nil
}

func (s *Service) emitAdjusted(ctx context.Context, tx *gorm.DB, account *models.Account, delta int64, reason enums.LedgerReason, note string, actor *outbox.ActorRef) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventWalletAdjusted,
		AggregateType: enums.AggregateWalletAccount,
		AggregateID:   account.ID,
		Actor:         actor,
		Data: payloads.WalletAdjustedEvent{
			AccountID: account.ID,
			Delta:     delta,
			Reason:    reason,
			Balance:   account.Balance,
			Note:      note,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit wallet event")
	}
	return nil
}

func findEntry(entries []models.LedgerEntry, reason enums.LedgerReason) *models.LedgerEntry {
	for i := range entries {
		if entries[i].Reason == reason {
			return &entries[i]
		}
	}
	return nil
}

func accountLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "wallet account not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet account")
}
