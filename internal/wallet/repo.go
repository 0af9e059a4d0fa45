package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

// ErrVersionMismatch reports that an account row changed since it was read.
var ErrVersionMismatch = errors.New("account version mismatch")

// Repository persists accounts and their append-only ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	LockAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	UpdateBalance(ctx context.Context, accountID uuid.UUID, expectedVersion int, balance int64) error
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListOrderEntries(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	ListEntries(ctx context.Context, params listEntriesParams) ([]models.LedgerEntry, *pagination.Cursor, error)
	SumEntries(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListAccountIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type listEntriesParams struct {
	AccountID uuid.UUID
	Limit     int
	Cursor    *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// LockAccount reads the account with a row lock held until the transaction ends.
func (r *repository) LockAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", accountID).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateBalance(ctx context.Context, accountID uuid.UUID, expectedVersion int, balance int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND version = ?", accountID, expectedVersion).
		Updates(map[string]any{
			"balance":    balance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListOrderEntries(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListEntries(ctx context.Context, params listEntriesParams) ([]models.LedgerEntry, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("account_id = ?", params.AccountID)

	var entries []models.LedgerEntry
	if err := pagination.Keyset(query, params.Cursor, params.Limit).Find(&entries).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Split(entries, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return page, next, nil
}

func (r *repository) SumEntries(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	return total, err
}

// ListAccountIDs pages through accounts in id order, starting after the given id.
func (r *repository) ListAccountIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).Model(&models.Account{}).Order("id ASC").Limit(limit)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	err := query.Pluck("id", &ids).Error
	return ids, err
}
