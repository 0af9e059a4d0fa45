package auth

import (
	"github.com/coinsacademy/topup-backend/internal/users"
)

// LoginRequest captures the user credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Phone    string `json:"phone" validate:"required,phone"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// TokenPair is the credential set returned to clients.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse contains the tokens and user produced by a successful login or
// registration.
type AuthResponse struct {
	TokenPair
	User *users.UserDTO `json:"user"`
}
