// Package db owns the shared gorm connection. Postgres runs through pgx;
// sqlite backs local dev and the package tests.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

type Client struct {
	conn *gorm.DB
}

// Pinger is the readiness probe surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens the pool described by cfg and verifies it with a ping.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQuery),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	client := &Client{conn: conn}
	if err := client.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "db_driver", cfg.Driver), "database connected")
	}
	return client, nil
}

func dialectorFor(cfg config.DBConfig) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "postgres":
		// Simple protocol keeps pgbouncer in transaction mode happy.
		return postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true}), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// NewFromConn adopts a connection opened elsewhere, mostly by tests.
func NewFromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx runs fn in a transaction. A returned error or a panic rolls back.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
