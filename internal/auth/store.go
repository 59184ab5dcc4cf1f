package auth

import (
	"context"
	"time"
)

// CredentialStore persists users and refresh tokens. The gateway treats it as
// a black box; the PostgreSQL implementation lives in postgres.go.
type CredentialStore interface {
	CreateUser(ctx context.Context, u *User) error
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	SetUserActive(ctx context.Context, userID string, active bool) error
	// LinkEmployee attaches an account to an employee record; an empty
	// employeeID clears the link.
	LinkEmployee(ctx context.Context, userID, employeeID string) error

	CreateRefreshToken(ctx context.Context, tok *RefreshToken) error
	FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	RevokeAllUserRefreshTokens(ctx context.Context, userID string) error
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// PermissionStore persists the role/permission graph.
type PermissionStore interface {
	CreateRole(ctx context.Context, role *Role) error
	FindRoleByID(ctx context.Context, id string) (*Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)

	CreatePermission(ctx context.Context, perm *Permission) error
	FindPermissionByID(ctx context.Context, id string) (*Permission, error)
	FindPermissionByKey(ctx context.Context, key string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermissions(ctx context.Context, perms []Permission) error

	AssignPermissionToRole(ctx context.Context, roleID, permissionID string) error
	RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error
	SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)

	AssignRoleToUser(ctx context.Context, userID, roleID string) (RoleAssignment, error)
	RemoveRoleFromUser(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
}
