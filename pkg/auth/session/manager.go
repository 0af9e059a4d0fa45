// Package session keeps refresh sessions in Redis, keyed by the access
// token's jti. A session holds the owning user and the current refresh token.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/redis"
)

const refreshTokenBytes = 32

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	errNoAccessID          = errors.New("access id is required")
)

type store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	AccessSessionKey(accessID string) string
}

// AccessSessionChecker is what the auth middleware needs.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

type Manager struct {
	store store
	ttl   time.Duration
}

func NewManager(client *redis.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, errors.New("session: redis client is required")
	}
	ttl := cfg.RefreshTokenTTL()
	access := time.Duration(cfg.ExpirationMinutes) * time.Minute
	if ttl <= access {
		return nil, fmt.Errorf("session: refresh ttl %s must exceed access ttl %s", ttl, access)
	}
	return &Manager{store: client, ttl: ttl}, nil
}

// record is the stored session value, "<user id>|<refresh token>".
type record struct {
	userID uuid.UUID
	token  string
}

func (r record) String() string { return r.userID.String() + "|" + r.token }

func parseRecord(v string) (record, bool) {
	id, token, ok := strings.Cut(v, "|")
	if !ok || token == "" {
		return record{}, false
	}
	userID, err := uuid.Parse(id)
	if err != nil {
		return record{}, false
	}
	return record{userID: userID, token: token}, true
}

// Generate opens a session for accessID and returns its refresh token.
func (m *Manager) Generate(ctx context.Context, accessID string, userID uuid.UUID) (string, error) {
	if strings.TrimSpace(accessID) == "" {
		return "", errNoAccessID
	}
	if userID == uuid.Nil {
		return "", errors.New("session: user id is required")
	}
	rec, err := m.open(ctx, accessID, userID)
	if err != nil {
		return "", err
	}
	return rec.token, nil
}

// Rotate exchanges the refresh token of oldAccessID for a new session. The
// old session is consumed before the token is compared, so a refresh token
// works once and a wrong guess burns the session.
func (m *Manager) Rotate(ctx context.Context, oldAccessID, provided string) (string, string, uuid.UUID, error) {
	if strings.TrimSpace(oldAccessID) == "" || provided == "" {
		return "", "", uuid.Nil, ErrInvalidRefreshToken
	}
	raw, err := m.store.GetDel(ctx, m.store.AccessSessionKey(oldAccessID))
	if errors.Is(err, goredis.Nil) {
		return "", "", uuid.Nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return "", "", uuid.Nil, err
	}
	old, ok := parseRecord(raw)
	if !ok || subtle.ConstantTimeCompare([]byte(old.token), []byte(provided)) != 1 {
		return "", "", uuid.Nil, ErrInvalidRefreshToken
	}

	accessID := NewAccessID()
	next, err := m.open(ctx, accessID, old.userID)
	if err != nil {
		return "", "", uuid.Nil, err
	}
	return accessID, next.token, old.userID, nil
}

func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return errNoAccessID
	}
	return m.store.Del(ctx, m.store.AccessSessionKey(accessID))
}

// HasSession reports whether accessID still has a live refresh session.
func (m *Manager) HasSession(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, errNoAccessID
	}
	return m.store.Exists(ctx, m.store.AccessSessionKey(accessID))
}

// NewAccessID returns a fresh jti.
func NewAccessID() string {
	return uuid.NewString()
}

func (m *Manager) open(ctx context.Context, accessID string, userID uuid.UUID) (record, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return record{}, fmt.Errorf("session: refresh token: %w", err)
	}
	rec := record{userID: userID, token: base64.RawURLEncoding.EncodeToString(buf)}
	if err := m.store.Set(ctx, m.store.AccessSessionKey(accessID), rec.String(), m.ttl); err != nil {
		return record{}, err
	}
	return rec, nil
}
