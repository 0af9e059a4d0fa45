package controllers

import (
	"context"
	"net/http"

	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/pkg/config"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// Pinger is satisfied by the database and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

const envHeader = "X-Topup-Env"

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when every dependency answers a ping.
func HealthReady(cfg *config.Config, deps map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
