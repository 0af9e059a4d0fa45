package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coinsacademy/topup-backend/api/routes"
	"github.com/coinsacademy/topup-backend/internal/auth"
	"github.com/coinsacademy/topup-backend/internal/bootstrap"
	"github.com/coinsacademy/topup-backend/pkg/auth/session"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/instance"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
	"github.com/coinsacademy/topup-backend/pkg/migrate"
	"github.com/coinsacademy/topup-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	services, err := bootstrap.Build(cfg, logg, dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       services.UsersRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	registerService, err := auth.NewRegisterService(auth.RegisterServiceParams{
		DB:             dbClient,
		Wallet:         services.Wallet,
		SessionManager: sessionManager,
		PasswordConfig: cfg.Password,
		JWTConfig:      cfg.JWT,
		WelcomeCredit:  cfg.Wallet.WelcomeCredit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create register service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			sessionManager,
			authService,
			registerService,
			services.Users,
			services.Catalog,
			services.Wallet,
			services.Orders,
			promhttp.Handler(),
			metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-shutdownCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}
