package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/coinsacademy/topup-backend/pkg/logger"
)

type mockConfig struct {
	Port          string        `envconfig:"TOPUP_MOCK_PROVIDER_PORT" default:"8090"`
	APIKey        string        `envconfig:"TOPUP_PROVIDER_API_KEY"`
	WebhookSecret string        `envconfig:"TOPUP_PROVIDER_WEBHOOK_SECRET" required:"true"`
	CallbackDelay time.Duration `envconfig:"TOPUP_MOCK_PROVIDER_CALLBACK_DELAY" default:"2s"`
	LogLevel      string        `envconfig:"TOPUP_LOG_LEVEL" default:"info"`
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "mock-provider"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	var cfg mockConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "mock-provider",
		Level:       logger.ParseLevel(cfg.LogLevel),
	})

	provider := newMockProvider(cfg.APIKey, cfg.CallbackDelay, newSignedNotifier(cfg.WebhookSecret, logg), logg)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.Recoverer(provider.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(drainCtx)
	}()

	logg.Info(logg.WithField(ctx, "addr", server.Addr), "starting mock provider")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "mock provider stopped unexpectedly", err)
		os.Exit(1)
	}
}
