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
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/security"
)

const minPasswordLength = 6

// RegisterService handles the sign-up transaction.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type accountOpener interface {
	OpenAccount(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, welcomeCredit int64) (*models.Account, error)
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	DB             txRunner
	Wallet         accountOpener
	SessionManager sessionManager
	PasswordConfig config.PasswordConfig
	JWTConfig      config.JWTConfig
	WelcomeCredit  int64
}

type registerService struct {
	db            txRunner
	wallet        accountOpener
	session       sessionManager
	passwordCfg   config.PasswordConfig
	jwtCfg        config.JWTConfig
	welcomeCredit int64
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager required")
	}
	return &registerService{
		db:            params.DB,
		wallet:        params.Wallet,
		session:       params.SessionManager,
		passwordCfg:   params.PasswordConfig,
		jwtCfg:        params.JWTConfig,
		welcomeCredit: params.WelcomeCredit,
	}, nil
}

// Register creates the user and their wallet in one transaction, then signs
// them in.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := strings.TrimSpace(req.Phone)
	switch {
	case name == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	case email == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	case len(req.Password) < minPasswordLength:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	case !users.ValidPhone(phone):
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid phone number")
	}

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var user *models.User
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		userRepo := users.NewRepository(tx)

		if _, err := userRepo.FindByEmail(ctx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user email")
		}
		if _, err := userRepo.FindByPhone(ctx, phone); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "phone already registered")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user phone")
		}

		created, err := userRepo.Create(ctx, users.CreateUserDTO{
			Name:         name,
			Email:        email,
			PasswordHash: passwordHash,
			Phone:        phone,
		})
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "email or phone already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
		}

		if _, err := s.wallet.OpenAccount(ctx, tx, created.ID, s.welcomeCredit); err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	tokens, err := issueTokens(ctx, s.session, s.jwtCfg, time.Now().UTC(), user)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{TokenPair: *tokens, User: users.FromModel(user)}, nil
}
