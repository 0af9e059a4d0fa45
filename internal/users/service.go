package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

// pointsDivisor converts an order total in minor units to loyalty points.
const pointsDivisor = 100

var phonePattern = regexp.MustCompile(`^01[0125][0-9]{8}$`)

// ValidPhone reports whether phone is an Egyptian mobile number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// Service manages profiles and loyalty standing.
type Service struct {
	repo *Repository
}

// NewService constructs the users service.
func NewService(repo *Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	return &Service{repo: repo}, nil
}

// GetProfile returns the caller's profile.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*UserDTO, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, lookupError(err)
	}
	return FromModel(user), nil
}

// UpdateProfile edits name and phone. A phone already held by another user is
// a conflict.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, input UpdateProfileInput) (*UserDTO, error) {
	fields := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
		fields["name"] = name
	}
	if input.Phone != nil {
		phone := strings.TrimSpace(*input.Phone)
		if !ValidPhone(phone) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid phone number")
		}
		existing, err := s.repo.FindByPhone(ctx, phone)
		switch {
		case err == nil && existing.ID != userID:
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "phone already registered")
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check phone")
		}
		fields["phone"] = phone
		fields["phone_verified"] = false
	}

	if err := s.repo.UpdateProfile(ctx, userID, fields); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "phone already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update profile")
	}
	return s.GetProfile(ctx, userID)
}

// AwardOrderPoints credits loyalty points for a delivered order inside tx and
// recomputes the user level. It returns the points awarded.
func (s *Service) AwardOrderPoints(ctx context.Context, tx *gorm.DB, userID uuid.UUID, totalPrice int64) (int64, error) {
	repo := s.repo.WithTx(tx)
	user, err := repo.LockByID(ctx, userID)
	if err != nil {
		return 0, lookupError(err)
	}
	awarded := totalPrice / pointsDivisor
	if awarded < 0 {
		awarded = 0
	}
	points := user.Points + awarded
	if err := repo.SetLoyalty(ctx, userID, points, enums.LevelForPoints(points), user.OrdersCount+1); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update loyalty")
	}
	return awarded, nil
}

func lookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
}
