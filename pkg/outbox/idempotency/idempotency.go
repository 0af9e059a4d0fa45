// Package idempotency dedupes message ids per consumer with Redis SETNX.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coinsacademy/topup-backend/pkg/redis"
)

// ErrEmptyID is returned for blank message ids.
var ErrEmptyID = errors.New("idempotency: message id is required")

// Scope is one consumer's namespace of seen message ids. Keys have the form
// topup:idempotency:seen:<consumer>:<id> and expire after ttl.
type Scope struct {
	store redis.IdempotencyStore
	name  string
	ttl   time.Duration
}

func NewScope(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Scope, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency: store is required")
	case strings.TrimSpace(consumer) == "":
		return nil, errors.New("idempotency: consumer name is required")
	case ttl < 0:
		return nil, errors.New("idempotency: ttl must be non-negative")
	}
	return &Scope{store: store, name: "seen:" + consumer, ttl: ttl}, nil
}

// Claim marks id as seen. It returns false when another call claimed id
// first and the claim has not expired or been released.
func (s *Scope) Claim(ctx context.Context, id string) (bool, error) {
	key, err := s.key(id)
	if err != nil {
		return false, err
	}
	return s.store.SetNX(ctx, key, "1", s.ttl)
}

// Release forgets id so a redelivery can be processed again.
func (s *Scope) Release(ctx context.Context, id string) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}
	return s.store.Del(ctx, key)
}

func (s *Scope) key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyID
	}
	return s.store.IdempotencyKey(s.name, id), nil
}
