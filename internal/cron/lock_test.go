package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memoryLockStore mimics the compare-and-set semantics of the Redis scripts.
type memoryLockStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, held := m.values[key]; held {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) ExtendOwned(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if m.values[key] != owner {
		return false, nil
	}
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) ReleaseOwned(_ context.Context, key, owner string) (bool, error) {
	if m.values[key] != owner {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockSingleLeader(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLockStore()
	a, err := NewRedisLock(store, "topup:lock:cron-worker:test", 30*time.Second)
	require.NoError(t, err)
	b, err := NewRedisLock(store, "topup:lock:cron-worker:test", 30*time.Second)
	require.NoError(t, err)

	won, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won)
	require.Contains(t, store.values["topup:lock:cron-worker:test"], "/")

	won, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, won)

	held, err := b.Refresh(ctx)
	require.NoError(t, err)
	require.False(t, held, "a lock never acquired cannot be refreshed")

	require.NoError(t, b.Release(ctx))
	require.NotEmpty(t, store.values["topup:lock:cron-worker:test"], "non-owner release must not delete")

	require.NoError(t, a.Release(ctx))
	won, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won)
}

func TestRedisLockDetectsTakeover(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLockStore()
	lock, err := NewRedisLock(store, "k", 0)
	require.NoError(t, err)
	require.Equal(t, defaultLockTTL, lock.ttl)

	_, err = lock.Acquire(ctx)
	require.NoError(t, err)
	store.values["k"] = "someone-else"

	held, err := lock.Refresh(ctx)
	require.NoError(t, err)
	require.False(t, held)
	require.NoError(t, lock.Release(ctx))
	require.Equal(t, "someone-else", store.values["k"])
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Second)
	require.Error(t, err)
	_, err = NewRedisLock(newMemoryLockStore(), "", time.Second)
	require.Error(t, err)
}
