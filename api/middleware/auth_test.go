package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coinsacademy/topup-backend/pkg/auth"
	"github.com/coinsacademy/topup-backend/pkg/auth/session"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/google/uuid"
)

func TestAuthRejectsBadCredentials(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	other := config.JWTConfig{Secret: "other-secret", Issuer: "issuer", ExpirationMinutes: 10}
	forged := mintTestToken(t, other, uuid.New(), enums.UserRoleOperator)

	handler := Auth(cfg, stubSessionVerifier{ok: true}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for name, header := range map[string]string{
		"missing":      "",
		"empty bearer": "Bearer   ",
		"garbage":      "Bearer invalid",
		"wrong secret": "Bearer " + forged,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", name, resp.Code)
		}
	}
}

func TestAuthSessionLookupFailureIsDependencyError(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	token := mintTestToken(t, cfg, uuid.New(), enums.UserRoleCustomer)
	handler := Auth(cfg, stubSessionVerifier{err: errors.New("redis down")}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	userID := uuid.New()
	token := mintTestToken(t, cfg, userID, enums.UserRoleCustomer)

	var captured struct {
		user string
		role string
	}
	handler := Auth(cfg, stubSessionVerifier{ok: true}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.user != userID.String() {
		t.Fatalf("expected user %s got %s", userID, captured.user)
	}
	if captured.role != string(enums.UserRoleCustomer) {
		t.Fatalf("expected role customer got %s", captured.role)
	}
}

func TestAuthRejectsRevokedSession(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	token := mintTestToken(t, cfg, uuid.New(), enums.UserRoleCustomer)

	handler := Auth(cfg, stubSessionVerifier{ok: false}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a revoked session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRequireRoleOperator(t *testing.T) {
	handler := RequireRole(nil, enums.UserRoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		role string
		want int
	}{
		{string(enums.UserRoleOperator), http.StatusNoContent},
		{string(enums.UserRoleCustomer), http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/x/cancel", nil)
		req = req.WithContext(WithRole(req.Context(), tt.role))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tt.want {
			t.Fatalf("role %q: expected %d got %d", tt.role, tt.want, resp.Code)
		}
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	payload := auth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
		JTI:    session.NewAccessID(),
	}
	token, err := auth.MintAccessToken(cfg, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

type stubSessionVerifier struct {
	ok  bool
	err error
}

func (s stubSessionVerifier) HasSession(ctx context.Context, accessID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.ok, nil
}
