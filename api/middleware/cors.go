package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"

	"github.com/coinsacademy/topup-backend/pkg/config"
)

// CORS admits the storefront origin plus any extra origins configured for
// the operator console or local tooling.
func CORS(app config.AppConfig) func(http.Handler) http.Handler {
	var origins []string
	for _, o := range append([]string{app.FrontendURL}, app.CORSOrigins...) {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" && !slices.Contains(origins, o) {
			origins = append(origins, o)
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id", "X-Topup-Token"},
		ExposedHeaders:   []string{"X-Topup-Token", "X-Request-Id", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
