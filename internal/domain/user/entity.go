// internal/domain/user/entity.go
package user

import (
	"database/sql"
	"time"
)

// User is an account plus its profile flags. IsPremium is derived state:
// it mirrors "has at least one active subscription" and is only written
// by the entitlement synchronizer (or an explicit admin override).
type User struct {
	ID           int64          `json:"id"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	FullName     sql.NullString `json:"full_name,omitempty"`
	IsAdmin      bool           `json:"is_admin"`
	IsPremium    bool           `json:"is_premium"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`

	// Filled from the request, not the body
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

type UserInfo struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
	IsPremium bool   `json:"is_premium"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserInfo  `json:"user"`
}

// Info strips persistence-only fields for API responses.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName.String,
		IsAdmin:   u.IsAdmin,
		IsPremium: u.IsPremium,
	}
}
