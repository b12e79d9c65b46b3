package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest creates a pending end-user account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	RoleID   string `json:"role_id" validate:"required,uuid"`
}

// LoginRequest holds credentials for authenticating a principal.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	IP       string `json:"-"`
	Device   string `json:"-"`
}

// LoginResponse returns the issued tokens and principal info.
type LoginResponse struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	ExpiresIn        int64         `json:"expires_in"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
	Principal        PrincipalInfo `json:"principal"`
	IssuedAt         time.Time     `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	Device       string `json:"-"`
}

// LogoutRequest revokes one refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

// PrincipalInfo describes the authenticated principal in responses.
type PrincipalInfo struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Email       string   `json:"email"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	// ActiveSessions is only set on /auth/me.
	ActiveSessions *int `json:"active_sessions,omitempty"`
}

// JWTClaims is the signed access token payload. Kind separates the user and
// admin surfaces; admins carry no role or permissions.
type JWTClaims struct {
	PrincipalID string   `json:"principal_id"`
	Kind        string   `json:"kind"`
	Email       string   `json:"email"`
	RoleID      string   `json:"role_id,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the claims carry name.
func (c *JWTClaims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// RequestMeta carries caller network details into recorded events.
type RequestMeta struct {
	IP     string
	Device string
}
