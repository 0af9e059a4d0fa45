package routes

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/internal/auth"
	"github.com/coinsacademy/topup-backend/internal/catalog"
	"github.com/coinsacademy/topup-backend/internal/delivery"
	internalorders "github.com/coinsacademy/topup-backend/internal/orders"
	"github.com/coinsacademy/topup-backend/internal/users"
	"github.com/coinsacademy/topup-backend/internal/wallet"
	pkgAuth "github.com/coinsacademy/topup-backend/pkg/auth"
	"github.com/coinsacademy/topup-backend/pkg/auth/session"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubSessionChecker struct{}

func (stubSessionChecker) HasSession(ctx context.Context, accessID string) (bool, error) {
	return true, nil
}

type stubAuthService struct{}

func (stubAuthService) Login(ctx context.Context, req auth.LoginRequest) (*auth.AuthResponse, error) {
	return &auth.AuthResponse{TokenPair: auth.TokenPair{AccessToken: "a", RefreshToken: "r"}}, nil
}

func (stubAuthService) Refresh(ctx context.Context, req auth.RefreshRequest) (*auth.TokenPair, error) {
	return &auth.TokenPair{AccessToken: "a", RefreshToken: "r"}, nil
}

func (stubAuthService) Logout(ctx context.Context, accessID string) error {
	return nil
}

type stubRegisterService struct{}

func (stubRegisterService) Register(ctx context.Context, req auth.RegisterRequest) (*auth.AuthResponse, error) {
	return &auth.AuthResponse{TokenPair: auth.TokenPair{AccessToken: "a", RefreshToken: "r"}}, nil
}

type stubProfileService struct{}

func (stubProfileService) GetProfile(ctx context.Context, userID uuid.UUID) (*users.UserDTO, error) {
	return &users.UserDTO{ID: userID}, nil
}

func (stubProfileService) UpdateProfile(ctx context.Context, userID uuid.UUID, input users.UpdateProfileInput) (*users.UserDTO, error) {
	return &users.UserDTO{ID: userID}, nil
}

type stubCatalogService struct{}

func (stubCatalogService) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.ProductDTO, error) {
	return &catalog.ProductDTO{ID: id}, nil
}

func (stubCatalogService) LoadProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return &models.Product{ID: id}, nil
}

func (stubCatalogService) ListProducts(ctx context.Context, input catalog.ListProductsInput) (*catalog.ProductPage, error) {
	return &catalog.ProductPage{}, nil
}

func (stubCatalogService) ListCategories(ctx context.Context) ([]catalog.CategoryDTO, error) {
	return nil, nil
}

type stubWalletService struct{}

func (stubWalletService) Balance(ctx context.Context, accountID uuid.UUID) (*wallet.BalanceDTO, error) {
	return &wallet.BalanceDTO{AccountID: accountID}, nil
}

func (stubWalletService) ListEntries(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*wallet.EntryPage, error) {
	return &wallet.EntryPage{}, nil
}

func (stubWalletService) Deposit(ctx context.Context, input wallet.AdjustmentInput) (*wallet.BalanceDTO, error) {
	return &wallet.BalanceDTO{AccountID: input.AccountID}, nil
}

func (stubWalletService) Withdraw(ctx context.Context, input wallet.AdjustmentInput) (*wallet.BalanceDTO, error) {
	return &wallet.BalanceDTO{AccountID: input.AccountID}, nil
}

type stubOrderService struct{}

func (stubOrderService) CreateOrder(ctx context.Context, accountID uuid.UUID, input internalorders.CreateOrderInput) (*internalorders.CreateOrderResult, error) {
	return &internalorders.CreateOrderResult{OrderID: uuid.New(), Status: enums.OrderStateDispatched}, nil
}

func (stubOrderService) GetOrder(ctx context.Context, accountID, orderID uuid.UUID) (*internalorders.OrderDTO, error) {
	return &internalorders.OrderDTO{ID: orderID}, nil
}

func (stubOrderService) ListOrders(ctx context.Context, accountID uuid.UUID, input internalorders.ListOrdersInput) (*internalorders.OrderPage, error) {
	return &internalorders.OrderPage{}, nil
}

func (stubOrderService) GetDeliveryStatus(ctx context.Context, accountID, deliveryID uuid.UUID) (*internalorders.DeliveryStatusDTO, error) {
	return &internalorders.DeliveryStatusDTO{DeliveryID: deliveryID}, nil
}

func (stubOrderService) CancelOrder(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*internalorders.OrderDTO, error) {
	return &internalorders.OrderDTO{ID: orderID, Status: enums.OrderStateCancelled}, nil
}

func (stubOrderService) HandleProviderCallback(ctx context.Context, raw []byte, signature string) (*delivery.Resolution, error) {
	return &delivery.Resolution{Result: delivery.ResultApplied}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:                 "secret",
			Issuer:                 "issuer",
			ExpirationMinutes:      60,
			RefreshTokenTTLMinutes: 120,
		},
	}
}

func newTestRouter(cfg *config.Config, db stubPinger) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(
		cfg,
		logg,
		db,
		nil,
		stubSessionChecker{},
		stubAuthService{},
		stubRegisterService{},
		stubProfileService{},
		stubCatalogService{},
		stubWalletService{},
		stubOrderService{},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		nil,
	)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		JTI:    session.NewAccessID(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func serve(router http.Handler, method, target, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthReadyReflectsDependencies(t *testing.T) {
	if resp := serve(newTestRouter(testConfig(), stubPinger{}), http.MethodGet, "/api/v1/health/ready", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	down := newTestRouter(testConfig(), stubPinger{err: errors.New("db down")})
	if resp := serve(down, http.MethodGet, "/api/v1/health/ready", "", nil); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if resp := serve(down, http.MethodGet, "/api/v1/health/live", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected live 200 got %d", resp.Code)
	}
}

func TestPublicRoutesNeedNoToken(t *testing.T) {
	router := newTestRouter(testConfig(), stubPinger{})
	for _, path := range []string{
		"/api/v1/products",
		"/api/v1/products/categories",
		"/api/v1/products/" + uuid.NewString(),
		"/metrics",
	} {
		if resp := serve(router, http.MethodGet, path, "", nil); resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestProtectedRoutesRejectMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig(), stubPinger{})
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/wallet/balance"},
		{http.MethodGet, "/api/v1/wallet/transactions"},
		{http.MethodGet, "/api/v1/orders/my-orders"},
		{http.MethodPost, "/api/v1/orders"},
		{http.MethodGet, "/api/v1/auth/profile"},
		{http.MethodPut, "/api/v1/orders/" + uuid.NewString() + "/cancel"},
	}
	for _, tt := range tests {
		if resp := serve(router, tt.method, tt.path, "", nil); resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 got %d", tt.method, tt.path, resp.Code)
		}
	}
}

func TestBuyerRoutesSucceedWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, stubPinger{})
	token := buildToken(t, cfg, enums.UserRoleCustomer)

	tests := []struct {
		method string
		path   string
		body   []byte
		want   int
	}{
		{http.MethodGet, "/api/v1/wallet/balance", nil, http.StatusOK},
		{http.MethodGet, "/api/v1/orders/my-orders", nil, http.StatusOK},
		{http.MethodGet, "/api/v1/orders/" + uuid.NewString(), nil, http.StatusOK},
		{http.MethodGet, "/api/v1/orders/delivery/" + uuid.NewString(), nil, http.StatusOK},
		{http.MethodPut, "/api/v1/orders/" + uuid.NewString() + "/cancel", nil, http.StatusOK},
		{http.MethodPost, "/api/v1/orders", []byte(`{"productId":"` + uuid.NewString() + `","paymentMethod":"wallet"}`), http.StatusCreated},
	}
	for _, tt := range tests {
		if resp := serve(router, tt.method, tt.path, token, tt.body); resp.Code != tt.want {
			t.Fatalf("%s %s: expected %d got %d (%s)", tt.method, tt.path, tt.want, resp.Code, resp.Body.String())
		}
	}
}

func TestAdminRoutesRequireOperatorRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, stubPinger{})
	path := "/api/v1/admin/orders/" + uuid.NewString() + "/cancel"

	if resp := serve(router, http.MethodPost, path, buildToken(t, cfg, enums.UserRoleCustomer), nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer got %d", resp.Code)
	}
	if resp := serve(router, http.MethodPost, path, buildToken(t, cfg, enums.UserRoleOperator), nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator got %d", resp.Code)
	}

	deposit := "/api/v1/admin/accounts/" + uuid.NewString() + "/deposit"
	if resp := serve(router, http.MethodPost, deposit, buildToken(t, cfg, enums.UserRoleOperator), []byte(`{"amount":100}`)); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator deposit got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestProviderWebhookIsPublic(t *testing.T) {
	router := newTestRouter(testConfig(), stubPinger{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(delivery.SignatureHeader, "sig")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestAuthRoutes(t *testing.T) {
	router := newTestRouter(testConfig(), stubPinger{})
	register := []byte(`{"name":"Mona","email":"mona@example.com","password":"secret1","phone":"01012345678"}`)
	if resp := serve(router, http.MethodPost, "/api/v1/auth/register", "", register); resp.Code != http.StatusCreated {
		t.Fatalf("register: expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}
	login := []byte(`{"email":"mona@example.com","password":"secret1"}`)
	if resp := serve(router, http.MethodPost, "/api/v1/auth/login", "", login); resp.Code != http.StatusOK {
		t.Fatalf("login: expected 200 got %d", resp.Code)
	}
}
