package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coinsacademy/topup-backend/internal/catalog"
	"github.com/coinsacademy/topup-backend/internal/delivery"
	"github.com/coinsacademy/topup-backend/internal/orders"
	"github.com/coinsacademy/topup-backend/internal/users"
	"github.com/coinsacademy/topup-backend/internal/wallet"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/redis"
)

// Services is the domain graph shared by the api and cron-worker binaries.
type Services struct {
	Outbox     *outbox.Service
	Users      *users.Service
	UsersRepo  *users.Repository
	Wallet     *wallet.Service
	Catalog    catalog.Service
	Attempts   *delivery.AttemptRepository
	Dispatcher *delivery.Dispatcher
	Machine    *orders.Machine
	Orders     *orders.Service
	Metrics    *metrics.DeliveryMetrics
}

// Build wires every domain service on top of the shared db and redis clients.
func Build(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	conn := dbClient.DB()
	s := &Services{
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logg),
		UsersRepo: users.NewRepository(conn),
		Attempts:  delivery.NewAttemptRepository(conn),
		Metrics:   metrics.NewDeliveryMetrics(reg),
	}

	var err error
	if s.Users, err = users.NewService(s.UsersRepo); err != nil {
		return nil, fmt.Errorf("users service: %w", err)
	}

	s.Wallet, err = wallet.NewService(wallet.ServiceParams{
		DB:         dbClient,
		Repository: wallet.NewRepository(conn),
		Outbox:     s.Outbox,
		Logger:     logg,
		Currency:   cfg.Wallet.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}

	if s.Catalog, err = catalog.NewService(catalog.NewRepository(conn)); err != nil {
		return nil, fmt.Errorf("catalog service: %w", err)
	}

	provider, err := delivery.NewProviderClient(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("provider client: %w", err)
	}
	guard, err := delivery.NewEventGuard(redisClient, cfg.Eventing.WebhookEventTTL)
	if err != nil {
		return nil, fmt.Errorf("callback guard: %w", err)
	}

	s.Dispatcher, err = delivery.NewDispatcher(delivery.DispatcherParams{
		DB:            dbClient,
		Provider:      provider,
		Attempts:      s.Attempts,
		Guard:         guard,
		Metrics:       s.Metrics,
		Logger:        logg,
		CallbackURL:   cfg.Provider.CallbackURL,
		WebhookSecret: cfg.Provider.WebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	orderRepo := orders.NewRepository(conn)
	s.Machine, err = orders.NewMachine(orders.MachineParams{
		Orders:   orderRepo,
		Attempts: s.Attempts,
		Wallet:   s.Wallet,
		Loyalty:  s.Users,
		Outbox:   s.Outbox,
		Metrics:  s.Metrics,
		Logger:   logg,
		Policy:   cfg.Delivery,
	})
	if err != nil {
		return nil, fmt.Errorf("order machine: %w", err)
	}
	s.Dispatcher.SetApplier(s.Machine)

	s.Orders, err = orders.NewService(orders.ServiceParams{
		DB:         dbClient,
		Orders:     orderRepo,
		Attempts:   s.Attempts,
		Catalog:    s.Catalog,
		Machine:    s.Machine,
		Dispatcher: s.Dispatcher,
		Logger:     logg,
		Provider:   cfg.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}
	return s, nil
}
