package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	pkgredis "github.com/coinsacademy/topup-backend/pkg/redis"
)

func TestEventGuardMarksAndReleases(t *testing.T) {
	raw, mock := redismock.NewClientMock()
	store := pkgredis.NewFromRaw(raw)
	guard, err := NewEventGuard(store, time.Hour)
	require.NoError(t, err)

	key := store.IdempotencyKey("seen:"+callbackGuardScope, "evt-1")
	mock.ExpectSetNX(key, "1", time.Hour).SetVal(true)
	mock.ExpectSetNX(key, "1", time.Hour).SetVal(false)
	mock.ExpectDel(key).SetVal(1)

	ctx := context.Background()
	seen, err := guard.CheckAndMark(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, seen)

	require.NoError(t, guard.Delete(ctx, "evt-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventGuardRejectsEmptyID(t *testing.T) {
	raw, _ := redismock.NewClientMock()
	guard, err := NewEventGuard(pkgredis.NewFromRaw(raw), time.Hour)
	require.NoError(t, err)

	_, err = guard.CheckAndMark(context.Background(), "")
	require.Error(t, err)
}
