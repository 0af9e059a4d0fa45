package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coinsacademy/topup-backend/internal/bootstrap"
	"github.com/coinsacademy/topup-backend/internal/cron"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/instance"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
	"github.com/coinsacademy/topup-backend/pkg/migrate"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	if err := run(); err != nil {
		logg.Error(context.Background(), "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = "cron-worker"

	logg := logger.New(logger.Options{
		ServiceName: cfg.Service.Kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	bootCtx := context.Background()
	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(logg, "redis", redisClient.Close)

	services, err := bootstrap.Build(cfg, logg, dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	registry, err := buildRegistry(cfg, logg, dbClient, services)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, fmt.Sprintf("starting cron worker with %d jobs", len(registry.Jobs())))

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func closeWith(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}

// lockName scopes leader election per environment so staging and prod
// workers sharing a Redis do not starve each other.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services) (*cron.Registry, error) {
	reconcile, err := cron.NewDeliveryReconcileJob(cron.DeliveryReconcileJobParams{
		Logger:             logg,
		Attempts:           services.Attempts,
		Reconciler:         services.Dispatcher,
		PendingTimeout:     cfg.Provider.PendingTimeout,
		StatusQueryEnabled: cfg.Provider.StatusQueryEnabled,
		BatchSize:          cfg.Delivery.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	retry, err := cron.NewDeliveryRetryJob(cron.DeliveryRetryJobParams{
		Logger:    logg,
		Orders:    services.Orders,
		BatchSize: cfg.Delivery.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Retention:   cfg.Cron.OutboxRetainDays,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(reconcile, retry, retention)
}
