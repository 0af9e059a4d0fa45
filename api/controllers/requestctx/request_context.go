package requestctx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/api/middleware"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

// ResolveUserID extracts the authenticated account from the request context.
func ResolveUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// ResolveRole returns the role carried by the access token.
func ResolveRole(r *http.Request) enums.UserRole {
	role, err := enums.ParseUserRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return enums.UserRoleCustomer
	}
	return role
}

// URLParamUUID parses a uuid route parameter.
func URLParamUUID(r *http.Request, name, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return id, nil
}
