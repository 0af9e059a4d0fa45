// Package dbtest opens isolated sqlite databases for package tests.
package dbtest

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// Open returns a fresh in-memory database named after the test with every
// model migrated.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=0", unsafeName.ReplaceAllString(t.Name(), "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A single connection keeps the shared-cache database alive and
	// serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// Client wraps Open in the db.Client used by services.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.NewFromConn(Open(t))
}
