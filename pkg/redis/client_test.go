package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"github.com/coinsacademy/topup-backend/pkg/config"
)

func TestKeyFamilies(t *testing.T) {
	client := &Client{}
	cases := map[string]string{
		client.IdempotencyKey("evt:processed:provider-callback", "evt-1"): "topup:idempotency:evt:processed:provider-callback:evt-1",
		client.RateLimitKey("login", "ip", "10.0.0.1"):                   "topup:rate_limit:login:ip:10.0.0.1",
		client.AccessSessionKey("abc"):                                    "topup:session:access:abc",
		client.LockKey("cron-worker:dev"):                                 "topup:lock:cron-worker:dev",
		client.LockKey(" "):                                               "topup:lock",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s got %s", want, got)
		}
	}
}

func TestSetNXFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	raw, mock := redismock.NewClientMock()
	client := NewFromRaw(raw)

	key := client.IdempotencyKey("evt:processed:provider-callback", "evt-1")
	mock.ExpectSetNX(key, "1", time.Hour).SetVal(true)
	mock.ExpectSetNX(key, "1", time.Hour).SetVal(false)

	if won, err := client.SetNX(ctx, key, "1", time.Hour); err != nil || !won {
		t.Fatalf("first writer should win, got %v err=%v", won, err)
	}
	if won, err := client.SetNX(ctx, key, "1", time.Hour); err != nil || won {
		t.Fatalf("second writer should lose, got %v err=%v", won, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestGetPassesThroughMissingKey(t *testing.T) {
	raw, mock := redismock.NewClientMock()
	client := NewFromRaw(raw)
	mock.ExpectGet("topup:session:access:gone").RedisNil()

	_, err := client.Get(context.Background(), "topup:session:access:gone")
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestCountInWindowRunsScript(t *testing.T) {
	ctx := context.Background()
	raw, mock := redismock.NewClientMock()
	client := NewFromRaw(raw)
	key := client.RateLimitKey("login", "ip", "10.0.0.1")

	mock.ExpectEvalSha(windowCounter.Hash(), []string{key}, int64(60000)).SetVal(int64(3))

	n, err := client.CountInWindow(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestCountInWindowRejectsZeroWindow(t *testing.T) {
	raw, _ := redismock.NewClientMock()
	if _, err := NewFromRaw(raw).CountInWindow(context.Background(), "k", 0); err == nil {
		t.Fatal("expected error for zero window")
	}
}

func TestReleaseOwnedReportsForeignHolder(t *testing.T) {
	ctx := context.Background()
	raw, mock := redismock.NewClientMock()
	client := NewFromRaw(raw)
	key := client.LockKey("cron-worker:dev")

	mock.ExpectEvalSha(ownedDelete.Hash(), []string{key}, "owner-a").SetVal(int64(1))
	mock.ExpectEvalSha(ownedDelete.Hash(), []string{key}, "owner-b").SetVal(int64(0))

	if ok, err := client.ReleaseOwned(ctx, key, "owner-a"); err != nil || !ok {
		t.Fatalf("owner should release, got %v err=%v", ok, err)
	}
	if ok, err := client.ReleaseOwned(ctx, key, "owner-b"); err != nil || ok {
		t.Fatalf("non-owner must not release, got %v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestExtendOwned(t *testing.T) {
	raw, mock := redismock.NewClientMock()
	client := NewFromRaw(raw)
	mock.ExpectEvalSha(ownedExtend.Hash(), []string{"topup:lock:x"}, "me", int64(30000)).SetVal(int64(1))

	ok, err := client.ExtendOwned(context.Background(), "topup:lock:x", "me", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected extend, got %v err=%v", ok, err)
	}
}

func TestUninitializedClient(t *testing.T) {
	var client *Client
	if err := client.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@cache:6380/2", DB: 5, PoolSize: 20})
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("url values should win: %+v", opts)
	}
	if opts.PoolSize != 20 {
		t.Fatalf("expected pool size from config, got %d", opts.PoolSize)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 1})
	if err != nil {
		t.Fatalf("address config: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 1 {
		t.Fatalf("unexpected options %+v", opts)
	}
}
