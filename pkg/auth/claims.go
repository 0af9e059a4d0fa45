package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	// JTI ties the token to a refresh session; generated when empty.
	JTI string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// BearerToken extracts the token from an Authorization header. "Bearer" is
// matched in any case and a bare token is accepted as is.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(rest)
	}
	return header
}
