package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
	"github.com/coinsacademy/topup-backend/pkg/migrate"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
	"github.com/coinsacademy/topup-backend/pkg/outbox/idempotency"
	"github.com/coinsacademy/topup-backend/pkg/outbox/registry"
	"github.com/coinsacademy/topup-backend/pkg/pubsub"
	"github.com/coinsacademy/topup-backend/pkg/rabbitmq"
	"github.com/coinsacademy/topup-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	client, closeBroker, err := newBroker(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap broker", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeBroker(); err != nil {
			logg.Error(context.Background(), "error closing broker client", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()
	dedupe, err := idempotency.NewScope(redisClient, "outbox-publisher", cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to build dedupe scope", err)
		os.Exit(1)
	}

	routes, err := registry.New(cfg.PubSub)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}
	publisher, err := NewPublisher(PublisherParams{
		Outbox:     cfg.Outbox,
		Logger:     logg,
		DB:         dbClient,
		Broker:     client,
		BrokerName: cfg.Eventing.Broker,
		Repository: outbox.NewRepository(dbClient.DB()),
		DLQ:        outbox.NewDLQRepository(dbClient.DB()),
		Registry:   routes,
		Dedupe:     dedupe,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-publisher",
		"broker":      cfg.Eventing.Broker,
	})
	logg.Info(ctx, "starting outbox publisher")

	if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func newBroker(ctx context.Context, cfg *config.Config, logg *logger.Logger) (broker, func() error, error) {
	if cfg.Eventing.UsesRabbitMQ() {
		client, err := rabbitmq.NewClient(ctx, cfg.RabbitMQ, logg)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}
