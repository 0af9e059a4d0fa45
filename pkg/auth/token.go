package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/config"
)

// clockSkew tolerates small drift between api replicas.
const clockSkew = 30 * time.Second

var (
	signingMethod = jwt.SigningMethodHS256

	// ErrTokenExpired is matched with errors.Is on ParseAccessToken failures.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrSubjectMismatch means sub and user_id disagree.
	ErrSubjectMismatch = errors.New("token subject does not match user_id")
)

func checkConfig(cfg config.JWTConfig) error {
	switch {
	case cfg.Secret == "":
		return errors.New("jwt secret is required")
	case cfg.Issuer == "":
		return errors.New("jwt issuer is required")
	}
	return nil
}

// MintAccessToken signs an HS256 access token valid for cfg.ExpirationMinutes
// from now. A blank JTI gets a random one.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := checkConfig(cfg); err != nil {
		return "", err
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", errors.New("jwt expiration minutes must be positive")
	}
	if payload.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !payload.Role.IsValid() {
		return "", fmt.Errorf("invalid user role %q", payload.Role)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	ttl := time.Duration(cfg.ExpirationMinutes) * time.Minute

	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-clockSkew)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and lifetime.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	return parse(cfg, raw, jwt.WithExpirationRequired(), jwt.WithLeeway(clockSkew))
}

// ParseAccessTokenAllowExpired verifies signature and issuer only. Refresh
// uses it to recover the session id from a token that has already lapsed.
func ParseAccessTokenAllowExpired(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	return parse(cfg, raw, jwt.WithoutClaimsValidation())
}

func parse(cfg config.JWTConfig, raw string, opts ...jwt.ParserOption) (*AccessTokenClaims, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	opts = append(opts,
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	claims := &AccessTokenClaims{}
	key := func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil }
	if _, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, key); err != nil {
		return nil, err
	}
	if claims.Issuer != cfg.Issuer {
		return nil, jwt.ErrTokenInvalidIssuer
	}
	if claims.Subject != claims.UserID.String() {
		return nil, ErrSubjectMismatch
	}
	return claims, nil
}
