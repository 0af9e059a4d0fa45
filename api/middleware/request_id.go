package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// Upstream ids are trusted only when they look like ids; anything else is
// replaced so arbitrary client input never reaches log fields or headers.
var acceptableRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,64}$`)

type requestIDKey struct{}

// RequestID propagates or assigns X-Request-Id, echoes it on the response and
// tags the request logger with it.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(responses.RequestIDHeader)
			if !acceptableRequestID.MatchString(id) {
				id = uuid.NewString()
			}
			w.Header().Set(responses.RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
