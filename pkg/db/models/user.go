package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// User represents the canonical identity entity.
type User struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name          string           `gorm:"column:name;type:text;not null"`
	Email         string           `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash  string           `gorm:"column:password_hash;not null"`
	Phone         string           `gorm:"column:phone;type:text;not null;uniqueIndex"`
	Role          enums.UserRole   `gorm:"column:role;type:text;not null;default:customer"`
	Status        enums.UserStatus `gorm:"column:status;type:text;not null;default:active"`
	Level         enums.UserLevel  `gorm:"column:level;type:text;not null;default:new"`
	Points        int64            `gorm:"column:points;not null;default:0"`
	OrdersCount   int              `gorm:"column:orders_count;not null;default:0"`
	EmailVerified bool             `gorm:"column:email_verified;not null;default:false"`
	PhoneVerified bool             `gorm:"column:phone_verified;not null;default:false"`
	LastLoginAt   *time.Time       `gorm:"column:last_login_at"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
