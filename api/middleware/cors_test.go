package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinsacademy/topup-backend/pkg/config"
)

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	handler := CORS(config.AppConfig{
		FrontendURL: "https://shop.example.com/",
		CORSOrigins: []string{" https://ops.example.com", "https://shop.example.com"},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders/", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for _, origin := range []string{"https://shop.example.com", "https://ops.example.com"} {
		rec := preflight(origin)
		require.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	}
	require.Empty(t, preflight("https://evil.example.com").Header().Get("Access-Control-Allow-Origin"))
}
