package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
)

// statusRecorder remembers the status code and body size a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Logging writes one access line per request and feeds the HTTP metrics.
// Routes are labelled by their chi pattern, never the raw path.
func Logging(logg *logger.Logger, httpMetrics *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r)

			took := time.Since(start)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			httpMetrics.Observe(r.Method, route, rec.status, took)

			if logg == nil {
				return
			}
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       route,
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": took.Milliseconds(),
			})
			if rec.status >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.complete")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}
