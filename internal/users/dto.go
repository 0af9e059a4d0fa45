package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// UserDTO is the transport shape that omits sensitive credentials.
type UserDTO struct {
	ID            uuid.UUID        `json:"id"`
	Name          string           `json:"name"`
	Email         string           `json:"email"`
	Phone         string           `json:"phone"`
	Role          enums.UserRole   `json:"role"`
	Status        enums.UserStatus `json:"status"`
	Level         enums.UserLevel  `json:"level"`
	Points        int64            `json:"points"`
	OrdersCount   int              `json:"ordersCount"`
	EmailVerified bool             `json:"emailVerified"`
	PhoneVerified bool             `json:"phoneVerified"`
	LastLoginAt   *time.Time       `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	Name         string
	Email        string
	PasswordHash string
	Phone        string
	Role         enums.UserRole
}

// UpdateProfileInput carries optional profile edits.
type UpdateProfileInput struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Phone *string `json:"phone,omitempty"`
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Phone:         u.Phone,
		Role:          u.Role,
		Status:        u.Status,
		Level:         u.Level,
		Points:        u.Points,
		OrdersCount:   u.OrdersCount,
		EmailVerified: u.EmailVerified,
		PhoneVerified: u.PhoneVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	role := c.Role
	if role == "" {
		role = enums.UserRoleCustomer
	}
	return &models.User{
		Name:         c.Name,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		Phone:        c.Phone,
		Role:         role,
		Status:       enums.UserStatusActive,
		Level:        enums.UserLevelNew,
	}
}
