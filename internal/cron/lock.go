package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/instance"
)

const defaultLockTTL = time.Minute

// Lock elects a single cron leader across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	// Refresh extends a held lock and reports false once leadership is lost.
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ExtendOwned(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseOwned(ctx context.Context, key, owner string) (bool, error)
}

// RedisLock holds a TTL'd key whose value names the owning worker. Refresh and
// Release are compare-and-set so a worker never touches a lock it lost.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	owner string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := instance.GetID() + "/" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

func (l *RedisLock) Refresh(ctx context.Context) (bool, error) {
	if l.owner == "" {
		return false, nil
	}
	ok, err := l.store.ExtendOwned(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", l.key, err)
	}
	if !ok {
		l.owner = ""
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	if _, err := l.store.ReleaseOwned(ctx, l.key, owner); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
