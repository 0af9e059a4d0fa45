package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

type memoryWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newMemoryWindowStore() *memoryWindowStore {
	return &memoryWindowStore{counts: map[string]int64{}}
}

func (m *memoryWindowStore) CountInWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryWindowStore) RateLimitKey(parts ...string) string {
	return "rl:" + strings.Join(parts, ":")
}

func loginRequest(email, ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"`+email+`","password":"hunter22"}`))
	req.RemoteAddr = ip + ":40000"
	return req
}

func TestAuthRateLimitPreservesBodyForHandler(t *testing.T) {
	var seen string
	h := AuthRateLimit(NewAuthRateLimitPolicy("login", time.Minute, 5, 5), newMemoryWindowStore(), nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			seen = string(raw)
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, loginRequest("Buyer@Example.com", "10.0.0.1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, seen, `"password":"hunter22"`)
}

func TestAuthRateLimitPerEmailAcrossIPs(t *testing.T) {
	store := newMemoryWindowStore()
	h := AuthRateLimit(NewAuthRateLimitPolicy("login", time.Minute, 0, 2), store, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	codes := make([]int, 0, 3)
	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		email := "buyer@example.com"
		if i == 2 {
			email = "  BUYER@example.com "
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, loginRequest(email, ip))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			require.Equal(t, "60", rec.Header().Get("Retry-After"))
			var body struct {
				Error struct{ Code string } `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, string(pkgerrors.CodeRateLimit), body.Error.Code)
		}
	}
	require.Equal(t, []int{200, 200, 429}, codes)

	for key := range store.counts {
		require.NotContains(t, key, "buyer", "raw email must not appear in keys")
	}
}

func TestAuthRateLimitPerIP(t *testing.T) {
	h := AuthRateLimit(NewAuthRateLimitPolicy("register", time.Minute, 1, 0), newMemoryWindowStore(), nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, loginRequest("a@example.com", "192.168.1.9"))
	second := httptest.NewRecorder()
	req := loginRequest("b@example.com", "127.0.0.1")
	req.Header.Set("X-Forwarded-For", "192.168.1.9, 10.1.1.1")
	h.ServeHTTP(second, req)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestAuthRateLimitStoreFailureIsRejected(t *testing.T) {
	store := newMemoryWindowStore()
	store.err = errors.New("connection refused")
	called := false
	h := AuthRateLimit(NewAuthRateLimitPolicy("login", time.Minute, 3, 0), store, nil)(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, loginRequest("a@example.com", "10.0.0.1"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, called)
}

func TestAuthRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	policy := NewAuthRateLimitPolicy("", 0, 5, 5)
	require.Equal(t, "auth", policy.Name)
	h := AuthRateLimit(policy, newMemoryWindowStore(), nil)(next)
	require.NotNil(t, h)
}
