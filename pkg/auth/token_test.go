package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/enums"
)

var tokenCfg = config.JWTConfig{Secret: "s3cr3t", Issuer: "topup", ExpirationMinutes: 15}

func TestAccessTokenRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	userID := uuid.New()

	raw, err := MintAccessToken(tokenCfg, now, AccessTokenPayload{UserID: userID, Role: enums.UserRoleOperator, JTI: " sess-42 "})
	require.NoError(t, err)

	claims, err := ParseAccessToken(tokenCfg, raw)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, enums.UserRoleOperator, claims.Role)
	require.Equal(t, "sess-42", claims.ID)
	require.Equal(t, userID.String(), claims.Subject)
	require.WithinDuration(t, now.Add(15*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestMintAccessTokenDefaultsJTI(t *testing.T) {
	raw, err := MintAccessToken(tokenCfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	require.NoError(t, err)
	claims, err := ParseAccessToken(tokenCfg, raw)
	require.NoError(t, err)
	_, err = uuid.Parse(claims.ID)
	require.NoError(t, err)
}

func TestMintAccessTokenRejects(t *testing.T) {
	good := AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleCustomer}
	cases := map[string]struct {
		cfg     config.JWTConfig
		payload AccessTokenPayload
	}{
		"no secret":   {cfg: config.JWTConfig{Issuer: "topup", ExpirationMinutes: 5}, payload: good},
		"no issuer":   {cfg: config.JWTConfig{Secret: "s", ExpirationMinutes: 5}, payload: good},
		"no lifetime": {cfg: config.JWTConfig{Secret: "s", Issuer: "topup"}, payload: good},
		"no user":     {cfg: tokenCfg, payload: AccessTokenPayload{Role: enums.UserRoleCustomer}},
		"bad role":    {cfg: tokenCfg, payload: AccessTokenPayload{UserID: uuid.New(), Role: "root"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := MintAccessToken(tc.cfg, time.Now(), tc.payload)
			require.Error(t, err)
		})
	}
}

func TestParseAccessTokenFailures(t *testing.T) {
	raw, err := MintAccessToken(tokenCfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	require.NoError(t, err)

	_, err = ParseAccessToken(tokenCfg, raw+"x")
	require.Error(t, err)

	wrongKey := tokenCfg
	wrongKey.Secret = "other"
	_, err = ParseAccessToken(wrongKey, raw)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	other := tokenCfg
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, raw)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	_, err = ParseAccessTokenAllowExpired(other, raw)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestExpiredTokenStillYieldsSessionForRefresh(t *testing.T) {
	raw, err := MintAccessToken(tokenCfg, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleCustomer, JTI: "old"})
	require.NoError(t, err)

	_, err = ParseAccessToken(tokenCfg, raw)
	require.ErrorIs(t, err, ErrTokenExpired)

	claims, err := ParseAccessTokenAllowExpired(tokenCfg, raw)
	require.NoError(t, err)
	require.Equal(t, "old", claims.ID)
}

func TestParseRejectsSubjectMismatch(t *testing.T) {
	now := time.Now()
	claims := AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.UserRoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenCfg.Issuer,
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenCfg.Secret))
	require.NoError(t, err)

	_, err = ParseAccessToken(tokenCfg, raw)
	require.ErrorIs(t, err, ErrSubjectMismatch)
}

func TestBearerToken(t *testing.T) {
	for in, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"abc":          "abc",
		"Basic abc":    "Basic abc",
		"":             "",
	} {
		require.Equal(t, want, BearerToken(in), in)
	}
}
