package middleware

import (
	"net/http"
	"slices"

	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// RequireRole admits callers whose token role is one of allowed. Auth must
// run first so the role is on the context.
func RequireRole(logg *logger.Logger, allowed ...enums.UserRole) func(http.Handler) http.Handler {
	permitted := func(r *http.Request) bool {
		role, err := enums.ParseUserRole(RoleFromContext(r.Context()))
		return err == nil && slices.Contains(allowed, role)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !permitted(r) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
