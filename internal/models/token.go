package models

import "time"

// PrincipalKind tags the class of identity a refresh token belongs to. Each
// kind is its own type so token stores for different kinds cannot be mixed.
type PrincipalKind interface {
	Kind() string
	TokenTable() string
	OwnerColumn() string
}

// UserPrincipal marks end-user accounts.
type UserPrincipal struct{}

func (UserPrincipal) Kind() string        { return KindUser }
func (UserPrincipal) TokenTable() string  { return "refresh_tokens" }
func (UserPrincipal) OwnerColumn() string { return "user_id" }

// AdminPrincipal marks out-of-band provisioned operators.
type AdminPrincipal struct{}

func (AdminPrincipal) Kind() string        { return KindAdmin }
func (AdminPrincipal) TokenTable() string  { return "admin_refresh_tokens" }
func (AdminPrincipal) OwnerColumn() string { return "admin_user_id" }

const (
	KindUser  = "user"
	KindAdmin = "admin"
)

// RefreshToken is an opaque bearer credential owned by a principal of kind K.
type RefreshToken[K PrincipalKind] struct {
	ID          string    `db:"id" json:"id"`
	PrincipalID string    `db:"principal_id" json:"principal_id"`
	Token       string    `db:"token" json:"-"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken[K]) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IssuedToken is the value handed back to a caller after Issue or Rotate.
type IssuedToken struct {
	Token       string    `json:"refresh_token"`
	ExpiresAt   time.Time `json:"refresh_expires_at"`
	PrincipalID string    `json:"-"`
}
