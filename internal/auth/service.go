package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/internal/users"
	pkgAuth "github.com/coinsacademy/topup-backend/pkg/auth"
	"github.com/coinsacademy/topup-backend/pkg/auth/session"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Service defines the behavior needed by the auth controller.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)
	Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error)
	Logout(ctx context.Context, accessID string) error
}

type service struct {
	users   userRepository
	session sessionManager
	jwtCfg  config.JWTConfig
	pwCfg   config.PasswordConfig
	now     func() time.Time
}

type userRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

type sessionManager interface {
	Generate(ctx context.Context, accessID string, userID uuid.UUID) (string, error)
	Rotate(ctx context.Context, oldAccessID, provided string) (string, string, uuid.UUID, error)
	Revoke(ctx context.Context, accessID string) error
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	UserRepo       userRepository
	SessionManager sessionManager
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
}

// NewService constructs a login service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	return &service{
		users:   params.UserRepo,
		session: params.SessionManager,
		jwtCfg:  params.JWTConfig,
		pwCfg:   params.PasswordConfig,
		now:     time.Now,
	}, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, err := s.authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(user); err != nil {
		return nil, err
	}
	s.upgradeHash(ctx, user, req.Password)

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update last login")
	}
	user.LastLoginAt = &now

	tokens, err := issueTokens(ctx, s.session, s.jwtCfg, now, user)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{TokenPair: *tokens, User: users.FromModel(user)}, nil
}

func (s *service) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	claims, err := pkgAuth.ParseAccessTokenAllowExpired(s.jwtCfg, req.AccessToken)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	accessID, refreshToken, userID, err := s.session.Rotate(ctx, claims.ID, req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidRefreshToken) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate session")
	}
	if userID != claims.UserID {
		_ = s.session.Revoke(ctx, accessID)
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		_ = s.session.Revoke(ctx, accessID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}
	if err := checkStatus(user); err != nil {
		_ = s.session.Revoke(ctx, accessID)
		return nil, err
	}

	accessToken, err := pkgAuth.MintAccessToken(s.jwtCfg, s.now().UTC(), pkgAuth.AccessTokenPayload{
		UserID: user.ID,
		Role:   user.Role,
		JTI:    accessID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *service) Logout(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session")
	}
	if err := s.session.Revoke(ctx, accessID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
	}
	return nil
}

func (s *service) authenticate(ctx context.Context, email, password string) (*models.User, error) {
	input := strings.TrimSpace(email)
	if input == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	user, err := s.users.FindByEmail(ctx, strings.ToLower(input))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}

	valid, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return user, nil
}

// upgradeHash re-hashes a verified password when the stored hash was made
// with older cost settings. Failures keep the old hash and do not block login.
func (s *service) upgradeHash(ctx context.Context, user *models.User, password string) {
	if !security.NeedsRehash(user.PasswordHash, s.pwCfg) {
		return
	}
	hash, err := security.HashPassword(password, s.pwCfg)
	if err != nil {
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err == nil {
		user.PasswordHash = hash
	}
}

func checkStatus(user *models.User) error {
	switch user.Status {
	case enums.UserStatusSuspended:
		return pkgerrors.New(pkgerrors.CodeForbidden, "account suspended")
	case enums.UserStatusBanned:
		return pkgerrors.New(pkgerrors.CodeForbidden, "account banned")
	}
	return nil
}

func issueTokens(ctx context.Context, sessions sessionManager, cfg config.JWTConfig, now time.Time, user *models.User) (*TokenPair, error) {
	accessID := session.NewAccessID()
	accessToken, err := pkgAuth.MintAccessToken(cfg, now, pkgAuth.AccessTokenPayload{
		UserID: user.ID,
		Role:   user.Role,
		JTI:    accessID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	refreshToken, err := sessions.Generate(ctx, accessID, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store refresh token")
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
