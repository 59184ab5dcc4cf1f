package auth

import "time"

// User is an account that can authenticate against the gateway. The password
// hash is write-only: it never appears in a response payload.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Active            bool       `json:"active"`
	EmailVerified     bool       `json:"email_verified"`
	EmployeeID        *string    `json:"employee_id,omitempty"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Role groups permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability keyed "resource:action".
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleAssignment grants a role to a user. The (user_id, role_id) pair is
// unique in storage.
type RoleAssignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshToken is the persisted half of an opaque refresh credential. Only a
// sha256 hash of the client-held secret is stored. A token is usable while
// Revoked is false and ExpiresAt is in the future; revoked and expired are
// indistinguishable to callers.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Valid reports whether the token can still be exchanged at the given moment.
func (t *RefreshToken) Valid(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}
