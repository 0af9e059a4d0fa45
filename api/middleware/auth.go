package middleware

import (
	"context"
	"net/http"

	"github.com/coinsacademy/topup-backend/api/responses"
	pkgAuth "github.com/coinsacademy/topup-backend/pkg/auth"
	"github.com/coinsacademy/topup-backend/pkg/auth/session"
	"github.com/coinsacademy/topup-backend/pkg/config"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// Auth requires a valid access token whose session is still live in Redis.
// Revoked sessions (logout, refresh rotation) are rejected even if the JWT
// has not expired.
func Auth(cfg config.JWTConfig, sessions session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, err := authenticate(r.Context(), cfg, sessions, r.Header.Get("Authorization"))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			ctx := withPrincipal(r.Context(), who)
			if logg != nil {
				ctx = logg.WithUserID(ctx, who.userID)
				ctx = logg.WithActorRole(ctx, who.role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(ctx context.Context, cfg config.JWTConfig, sessions session.AccessSessionChecker, header string) (principal, error) {
	token := pkgAuth.BearerToken(header)
	if token == "" {
		return principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	claims, err := pkgAuth.ParseAccessToken(cfg, token)
	if err != nil {
		return principal{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	if claims.ID == "" {
		return principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "token has no session id")
	}
	if sessions != nil {
		live, err := sessions.HasSession(ctx, claims.ID)
		if err != nil {
			return principal{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "session lookup")
		}
		if !live {
			return principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "session revoked")
		}
	}
	return principal{userID: claims.UserID.String(), role: string(claims.Role)}, nil
}
