package middleware

import (
	"fmt"
	"net/http"

	"github.com/coinsacademy/topup-backend/api/responses"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// Recoverer turns handler panics into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can drop the connection as the handler intended.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("handler panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					// Error captures the stack, which still includes the panicking frame here.
					logg.Error(ctx, "http.panic", err)
				}
				responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected failure"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
