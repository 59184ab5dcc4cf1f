package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"peopledesk.org/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	_ CredentialStore = (*PGStore)(nil)
	_ PermissionStore = (*PGStore)(nil)
)

// PGStore implements CredentialStore and PermissionStore on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, active,
	email_verified, employee_id, last_login_at, password_changed_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Active, &u.EmailVerified, &u.EmployeeID, &u.LastLoginAt,
		&u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new account row.
func (s *PGStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, first_name, last_name, active, email_verified, employee_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Active, u.EmailVerified, u.EmployeeID,
	)
	return mapPgError(err)
}

// FindUserByID loads a user by primary key.
func (s *PGStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

// FindUserByEmail loads a user by its unique email.
func (s *PGStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

// UpdatePassword stores a new hash and stamps password_changed_at.
func (s *PGStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, password_changed_at=now(), updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateLastLogin stamps the last successful login moment.
func (s *PGStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2, updated_at=now() where id=$1`, userID, at)
	return err
}

// SetUserActive toggles the activation flag.
func (s *PGStore) SetUserActive(ctx context.Context, userID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set active=$2, updated_at=now() where id=$1`, userID, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// LinkEmployee attaches the account to an employee record. An empty
// employeeID clears the link.
func (s *PGStore) LinkEmployee(ctx context.Context, userID, employeeID string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set employee_id=nullif($2, ''), updated_at=now() where id=$1`,
		userID, employeeID)
	if err != nil {
		return mapPgError(err)
	}
	return requireRow(res)
}

// CreateRefreshToken persists one refresh token row.
func (s *PGStore) CreateRefreshToken(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at, revoked)
		 values($1,$2,$3,$4,$5)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.Revoked)
	return mapPgError(err)
}

// FindRefreshToken loads one refresh token row.
func (s *PGStore) FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, revoked, created_at
		 from refresh_tokens where id=$1`, id)
	var t RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// RevokeRefreshToken marks one token revoked.
func (s *PGStore) RevokeRefreshToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RevokeAllUserRefreshTokens marks every live token of the user revoked.
func (s *PGStore) RevokeAllUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1 and revoked=false`, userID)
	return err
}

// DeleteExpiredRefreshTokens removes rows whose expiry has passed.
func (s *PGStore) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateRole inserts a role with a unique name.
func (s *PGStore) CreateRole(ctx context.Context, role *Role) error {
	_, err := s.db.ExecContext(ctx,
		`insert into roles(id, name, description) values($1,$2,$3)`,
		role.ID, role.Name, role.Description)
	return mapPgError(err)
}

// FindRoleByID loads one role.
func (s *PGStore) FindRoleByID(ctx context.Context, id string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at, updated_at from roles where id=$1`, id)
	return scanRole(row)
}

// FindRoleByName loads one role by its unique name.
func (s *PGStore) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at, updated_at from roles where name=$1`, name)
	return scanRole(row)
}

func scanRole(row interface{ Scan(...any) error }) (*Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// ListRoles returns every role ordered by name.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, created_at, updated_at from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CreatePermission inserts a permission with a unique key.
func (s *PGStore) CreatePermission(ctx context.Context, perm *Permission) error {
	_, err := s.db.ExecContext(ctx,
		`insert into permissions(id, key, resource, action, description) values($1,$2,$3,$4,$5)`,
		perm.ID, perm.Key, perm.Resource, perm.Action, perm.Description)
	return mapPgError(err)
}

// FindPermissionByID loads one permission.
func (s *PGStore) FindPermissionByID(ctx context.Context, id string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, key, resource, action, description, created_at from permissions where id=$1`, id)
	return scanPermission(row)
}

// FindPermissionByKey loads one permission by its unique key.
func (s *PGStore) FindPermissionByKey(ctx context.Context, key string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, key, resource, action, description, created_at from permissions where key=$1`, key)
	return scanPermission(row)
}

func scanPermission(row interface{ Scan(...any) error }) (*Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Key, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListPermissions returns the catalog ordered by key.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, key, resource, action, description, created_at from permissions order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermissions installs catalog entries idempotently.
func (s *PGStore) EnsurePermissions(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		resource, action, _ := SplitPermissionKey(p.Key)
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, key, resource, action, description)
			 values($1,$2,$3,$4,$5) on conflict (key) do nothing`,
			id, p.Key, resource, action, p.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

// AssignPermissionToRole links a permission to a role.
func (s *PGStore) AssignPermissionToRole(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into role_permissions(role_id, permission_id) values($1,$2) on conflict do nothing`,
		roleID, permissionID)
	return mapPgError(err)
}

// RemovePermissionFromRole detaches a permission from a role.
func (s *PGStore) RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from role_permissions where role_id=$1 and permission_id=$2`, roleID, permissionID)
	return err
}

// SetRolePermissions replaces a role's permission set transactionally.
func (s *PGStore) SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, key := range permissionKeys {
		_, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id)
			 select $1, id from permissions where key=$2`, roleID, key)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PermissionsForRole returns the permissions linked to a role.
func (s *PGStore) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.key, p.resource, p.action, p.description, p.created_at
		 from permissions p
		 join role_permissions rp on rp.permission_id = p.id
		 where rp.role_id=$1 order by p.key`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// AssignRoleToUser grants a role to a user. Re-granting is a conflict so the
// caller can distinguish a duplicate grant from a fresh one.
func (s *PGStore) AssignRoleToUser(ctx context.Context, userID, roleID string) (RoleAssignment, error) {
	row := s.db.QueryRowContext(ctx,
		`insert into user_roles(user_id, role_id) values($1,$2) returning user_id, role_id, created_at`,
		userID, roleID)
	var a RoleAssignment
	if err := row.Scan(&a.UserID, &a.RoleID, &a.CreatedAt); err != nil {
		return RoleAssignment{}, mapPgError(err)
	}
	return a, nil
}

// RemoveRoleFromUser removes a role grant.
func (s *PGStore) RemoveRoleFromUser(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role_id=$2`, userID, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RolesForUser returns the roles granted to a user.
func (s *PGStore) RolesForUser(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.id, r.name, r.description, r.created_at, r.updated_at
		 from roles r
		 join user_roles ur on ur.role_id = r.id
		 where ur.user_id=$1 order by r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return ErrConflict
		case pgErrForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}
