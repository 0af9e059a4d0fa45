package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/api/controllers/requestctx"
	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/api/validators"
	"github.com/coinsacademy/topup-backend/internal/users"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// ProfileService reads and edits the caller's profile.
type ProfileService interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*users.UserDTO, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, input users.UpdateProfileInput) (*users.UserDTO, error)
}

// ProfileGet returns the caller's profile including loyalty standing.
func ProfileGet(svc ProfileService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "profile service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		profile, err := svc.GetProfile(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profile)
	}
}

// ProfileUpdate edits the caller's name or phone.
func ProfileUpdate(svc ProfileService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "profile service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body users.UpdateProfileInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Name != nil {
			name := validators.SanitizeString(*body.Name, 100)
			body.Name = &name
		}

		profile, err := svc.UpdateProfile(r.Context(), userID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profile)
	}
}
