package controllers

import (
	"context"
	"net/http"

	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/api/validators"
	"github.com/coinsacademy/topup-backend/internal/auth"
	pkgAuth "github.com/coinsacademy/topup-backend/pkg/auth"
	"github.com/coinsacademy/topup-backend/pkg/config"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// TokenHeader carries the freshly minted access token alongside the body.
const TokenHeader = "X-Topup-Token"

type sessionRevoker interface {
	Logout(ctx context.Context, accessID string) error
}

// AuthLogin exchanges email and password for a session.
func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg, "auth")
	}
	return tokenExchange(logg, http.StatusOK, svc.Login, func(r *auth.AuthResponse) string { return r.AccessToken })
}

// AuthRefresh rotates a refresh token into a new token pair.
func AuthRefresh(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg, "auth")
	}
	return tokenExchange(logg, http.StatusOK, svc.Refresh, func(p *auth.TokenPair) string { return p.AccessToken })
}

// AuthRegister opens the account and its wallet, then signs the user in.
func AuthRegister(reg auth.RegisterService, logg *logger.Logger) http.HandlerFunc {
	if reg == nil {
		return unavailable(logg, "registration")
	}
	return tokenExchange(logg, http.StatusCreated, reg.Register, func(r *auth.AuthResponse) string { return r.AccessToken })
}

// AuthLogout drops the refresh session bound to the presented access token.
// Expired tokens are accepted so a client can always sign out.
func AuthLogout(svc sessionRevoker, cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg, "auth")
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token := pkgAuth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}
		claims, err := pkgAuth.ParseAccessTokenAllowExpired(cfg, token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
			return
		}
		if err := svc.Logout(r.Context(), claims.ID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}

// tokenExchange decodes Req, runs call and mirrors the resulting access token
// into TokenHeader.
func tokenExchange[Req, Resp any](
	logg *logger.Logger,
	status int,
	call func(context.Context, Req) (Resp, error),
	accessToken func(Resp) string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body Req
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := call(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set(TokenHeader, accessToken(out))
		responses.WriteSuccessStatus(w, status, out)
	}
}

func unavailable(logg *logger.Logger, what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, what+" service unavailable"))
	}
}
