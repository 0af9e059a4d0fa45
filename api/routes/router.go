package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coinsacademy/topup-backend/api/controllers"
	ordercontrollers "github.com/coinsacademy/topup-backend/api/controllers/orders"
	webhookcontrollers "github.com/coinsacademy/topup-backend/api/controllers/webhooks"
	"github.com/coinsacademy/topup-backend/api/middleware"
	"github.com/coinsacademy/topup-backend/internal/auth"
	"github.com/coinsacademy/topup-backend/internal/catalog"
	"github.com/coinsacademy/topup-backend/pkg/auth/session"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
	"github.com/coinsacademy/topup-backend/pkg/redis"
)

// OrderService is what the order and webhook routes need from the façade.
type OrderService interface {
	ordercontrollers.Service
	webhookcontrollers.ProviderCallbackService
}

// WalletService covers the buyer and operator wallet routes.
type WalletService interface {
	controllers.WalletReader
	controllers.WalletAdjuster
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	sessionChecker session.AccessSessionChecker,
	authService auth.Service,
	registerService auth.RegisterService,
	profileService controllers.ProfileService,
	catalogService catalog.Service,
	walletService WalletService,
	orderService OrderService,
	metricsHandler http.Handler,
	httpMetrics *metrics.HTTPMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App),
	)

	var (
		idempotencyStore middleware.ReplayStore
		rateLimitStore   middleware.RateLimiterStore
		readiness        = map[string]controllers.Pinger{"database": dbP}
	)
	if redisClient != nil {
		idempotencyStore = redisClient
		rateLimitStore = redisClient
		readiness["redis"] = redisClient
	}

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", controllers.HealthLive(cfg))
			r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
		})

		r.Post("/webhooks/provider", webhookcontrollers.ProviderWebhook(orderService, logg))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ProductList(catalogService, logg))
			r.Get("/categories", controllers.ProductCategories(catalogService, logg))
			r.Get("/{productId}", controllers.ProductDetail(catalogService, logg))
		})

		r.Route("/auth", func(r chi.Router) {
			r.With(
				middleware.AuthRateLimit(registerPolicy, rateLimitStore, logg),
				middleware.Idempotency(idempotencyStore, logg),
			).Post("/register", controllers.AuthRegister(registerService, logg))
			r.With(middleware.AuthRateLimit(loginPolicy, rateLimitStore, logg)).Post("/login", controllers.AuthLogin(authService, logg))
			r.Post("/refresh", controllers.AuthRefresh(authService, logg))
			r.Post("/logout", controllers.AuthLogout(authService, cfg.JWT, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.JWT, sessionChecker, logg))
				r.Get("/profile", controllers.ProfileGet(profileService, logg))
				r.Put("/profile", controllers.ProfileUpdate(profileService, logg))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, sessionChecker, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Route("/wallet", func(r chi.Router) {
				r.Get("/balance", controllers.WalletBalance(walletService, logg))
				r.Get("/transactions", controllers.WalletTransactions(walletService, logg))
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", ordercontrollers.Create(orderService, logg))
				r.Get("/my-orders", ordercontrollers.List(orderService, logg))
				r.Get("/delivery/{deliveryId}", ordercontrollers.DeliveryStatus(orderService, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(orderService, logg))
				r.Put("/{orderId}/cancel", ordercontrollers.Cancel(orderService, logg))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleOperator))
				r.Post("/accounts/{accountId}/deposit", controllers.AdminDeposit(walletService, logg))
				r.Post("/accounts/{accountId}/withdraw", controllers.AdminWithdraw(walletService, logg))
				r.Post("/orders/{orderId}/cancel", controllers.AdminCancelOrder(orderService, logg))
			})
		})
	})

	return r
}
