package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

const keyNamespace = "topup"

// Key families. Every key the backend writes starts with keyNamespace and one
// of these so a shared Redis can be scanned per concern.
const (
	familyIdempotency = "idempotency"
	familyRateLimit   = "rate_limit"
	familySession     = "session"
	familyLock        = "lock"
)

var errNotInitialized = errors.New("redis client not initialized")

// windowCounter increments KEYS[1] and arms its expiry on the first hit only,
// so a burst can never leave a counter without a TTL.
var windowCounter = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// ownedDelete removes KEYS[1] only while it still holds ARGV[1].
var ownedDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// ownedExtend resets the TTL of KEYS[1] only while it still holds ARGV[1].
var ownedExtend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Client is the backend's handle on Redis: sessions, idempotency records,
// rate-limit windows and the cron leader lock all go through it.
type Client struct {
	store redis.Cmdable
	raw   *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore exposes minimal operations used by idempotency helpers.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New dials Redis from config and fails fast when the server is unreachable.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Debug(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connected")
	}
	return NewFromRaw(raw), nil
}

// NewFromRaw wraps an existing go-redis client without pinging it.
func NewFromRaw(raw *redis.Client) *Client {
	return &Client{store: raw, raw: raw}
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	// Values already carried by the URL win over the discrete settings.
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

func (c *Client) ready() error {
	if c == nil || c.store == nil {
		return errNotInitialized
	}
	return nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil unchanged when the key is missing.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.store.Get(ctx, key).Result()
}

// GetDel reads and removes key in one step. Missing keys yield redis.Nil.
func (c *Client) GetDel(ctx context.Context, key string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.store.GetDel(ctx, key).Result()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	n, err := c.store.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.store.Del(ctx, keys...).Err()
}

// CountInWindow bumps the fixed-window counter at key and returns the hit
// count inside the current window.
func (c *Client) CountInWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive, got %s", window)
	}
	return windowCounter.Run(ctx, c.store, []string{key}, window.Milliseconds()).Int64()
}

// ReleaseOwned deletes key if owner still holds it and reports whether it did.
func (c *Client) ReleaseOwned(ctx context.Context, key, owner string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	n, err := ownedDelete.Run(ctx, c.store, []string{key}, owner).Int64()
	return n == 1, err
}

// ExtendOwned pushes the expiry of key out to ttl if owner still holds it.
func (c *Client) ExtendOwned(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	n, err := ownedExtend.Run(ctx, c.store, []string{key}, owner, ttl.Milliseconds()).Int64()
	return n == 1, err
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(familyIdempotency, scope, id)
}

func (c *Client) RateLimitKey(parts ...string) string {
	return buildKey(familyRateLimit, parts...)
}

func (c *Client) AccessSessionKey(accessID string) string {
	return buildKey(familySession, "access", accessID)
}

func (c *Client) LockKey(name string) string {
	return buildKey(familyLock, name)
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func buildKey(family string, parts ...string) string {
	segments := []string{keyNamespace, family}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, ":")
}
