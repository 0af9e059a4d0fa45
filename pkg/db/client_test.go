package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

type ledgerRow struct {
	ID   int
	Memo string
}

func openSQLite(t *testing.T, logg *logger.Logger) *Client {
	t.Helper()
	client, err := New(context.Background(), config.DBConfig{
		Driver:    "sqlite",
		DSN:       "file:" + t.Name() + "?mode=memory&cache=shared",
		SlowQuery: time.Hour,
	}, logg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&ledgerRow{}))
	return client
}

func countRows(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&ledgerRow{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	client := openSQLite(t, nil)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Memo: "kept"}).Error
	}))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&ledgerRow{Memo: "dropped"}).Error)
		return errors.New("insufficient funds")
	})
	require.EqualError(t, err, "insufficient funds")

	require.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&ledgerRow{Memo: "panicked"}).Error)
			panic("boom")
		})
	})

	require.EqualValues(t, 1, countRows(t, client))
	require.NoError(t, client.Ping(ctx))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: "sqlite"}, nil)
	require.Error(t, err)

	_, err = dialectorFor(config.DBConfig{Driver: "mysql", DSN: "x"})
	require.Error(t, err)
}

func TestQueryLoggerReportsFailuresOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	client := openSQLite(t, logger.New(logger.Options{Output: buf, Format: "json"}))

	var row ledgerRow
	err := client.DB().First(&row, "id = ?", 42).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.NotContains(t, buf.String(), "db.query_failed", "not-found is a normal outcome")

	require.Error(t, client.DB().Exec("INSERT INTO missing_table VALUES (1)").Error)
	require.Contains(t, buf.String(), "db.query_failed")
	require.Contains(t, buf.String(), "missing_table")
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_ledger_entries_order_reason"}
	require.True(t, IsUniqueViolation(pgErr, "ux_ledger_entries_order_reason"))
	require.False(t, IsUniqueViolation(pgErr, "ux_other"))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	require.False(t, IsUniqueViolation(errors.New("boom"), ""))

	client := openSQLite(t, nil)
	type voucher struct {
		ID   int
		Code string `gorm:"uniqueIndex"`
	}
	require.NoError(t, client.DB().AutoMigrate(&voucher{}))
	require.NoError(t, client.DB().Create(&voucher{Code: "a"}).Error)
	require.True(t, IsUniqueViolation(client.DB().Create(&voucher{Code: "a"}).Error, ""))
}
