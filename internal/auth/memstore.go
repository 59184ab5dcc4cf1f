package auth

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory CredentialStore and PermissionStore. It backs
// tests and the local development mode of the gateway binary.
type MemStore struct {
	mu sync.Mutex

	users       map[string]*User
	usersByMail map[string]string
	tokens      map[string]*RefreshToken
	roles       map[string]*Role
	rolesByName map[string]string
	perms       map[string]*Permission
	permsByKey  map[string]string
	rolePerms   map[string]map[string]struct{} // roleID -> permissionID set
	userRoles   map[string]map[string]struct{} // userID -> roleID set
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[string]*User),
		usersByMail: make(map[string]string),
		tokens:      make(map[string]*RefreshToken),
		roles:       make(map[string]*Role),
		rolesByName: make(map[string]string),
		perms:       make(map[string]*Permission),
		permsByKey:  make(map[string]string),
		rolePerms:   make(map[string]map[string]struct{}),
		userRoles:   make(map[string]map[string]struct{}),
	}
}

func (m *MemStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usersByMail[u.Email]; ok {
		return ErrConflict
	}
	cp := *u
	m.users[u.ID] = &cp
	m.usersByMail[u.Email] = u.ID
	return nil
}

func (m *MemStore) FindUserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	id, ok := m.usersByMail[email]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindUserByID(context.Background(), id)
}

func (m *MemStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &now
	return nil
}

func (m *MemStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (m *MemStore) SetUserActive(_ context.Context, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}

func (m *MemStore) LinkEmployee(_ context.Context, userID, employeeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if employeeID == "" {
		u.EmployeeID = nil
		return nil
	}
	u.EmployeeID = &employeeID
	return nil
}

func (m *MemStore) CreateRefreshToken(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *MemStore) FindRefreshToken(_ context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemStore) RevokeRefreshToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.Revoked = true
	return nil
}

func (m *MemStore) RevokeAllUserRefreshTokens(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *MemStore) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CreateRole(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rolesByName[role.Name]; ok {
		return ErrConflict
	}
	cp := *role
	m.roles[role.ID] = &cp
	m.rolesByName[role.Name] = role.ID
	return nil
}

func (m *MemStore) FindRoleByID(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	id, ok := m.rolesByName[name]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindRoleByID(context.Background(), id)
}

func (m *MemStore) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, *r)
	}
	return out, nil
}

func (m *MemStore) CreatePermission(_ context.Context, perm *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permsByKey[perm.Key]; ok {
		return ErrConflict
	}
	cp := *perm
	m.perms[perm.ID] = &cp
	m.permsByKey[perm.Key] = perm.ID
	return nil
}

func (m *MemStore) FindPermissionByID(_ context.Context, id string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) FindPermissionByKey(_ context.Context, key string) (*Permission, error) {
	m.mu.Lock()
	id, ok := m.permsByKey[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindPermissionByID(context.Background(), id)
}

func (m *MemStore) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, *p)
	}
	return out, nil
}

func (m *MemStore) EnsurePermissions(ctx context.Context, perms []Permission) error {
	for i := range perms {
		p := perms[i]
		if p.ID == "" {
			p.ID = "perm-" + p.Key
		}
		if err := m.CreatePermission(ctx, &p); err != nil && err != ErrConflict {
			return err
		}
	}
	return nil
}

func (m *MemStore) AssignPermissionToRole(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rolePerms[roleID]
	if !ok {
		set = make(map[string]struct{})
		m.rolePerms[roleID] = set
	}
	set[permissionID] = struct{}{}
	return nil
}

func (m *MemStore) RemovePermissionFromRole(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.rolePerms[roleID]; ok {
		delete(set, permissionID)
	}
	return nil
}

func (m *MemStore) SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error {
	m.mu.Lock()
	m.rolePerms[roleID] = make(map[string]struct{})
	m.mu.Unlock()
	for _, key := range permissionKeys {
		perm, err := m.FindPermissionByKey(ctx, key)
		if err != nil {
			continue
		}
		if err := m.AssignPermissionToRole(ctx, roleID, perm.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) PermissionsForRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for id := range m.rolePerms[roleID] {
		if p, ok := m.perms[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MemStore) AssignRoleToUser(_ context.Context, userID, roleID string) (RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.userRoles[userID]
	if !ok {
		set = make(map[string]struct{})
		m.userRoles[userID] = set
	}
	if _, dup := set[roleID]; dup {
		return RoleAssignment{}, ErrConflict
	}
	set[roleID] = struct{}{}
	return RoleAssignment{UserID: userID, RoleID: roleID, CreatedAt: time.Now().UTC()}, nil
}

func (m *MemStore) RemoveRoleFromUser(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.userRoles[userID]
	if !ok {
		return ErrNotFound
	}
	if _, granted := set[roleID]; !granted {
		return ErrNotFound
	}
	delete(set, roleID)
	return nil
}

func (m *MemStore) RolesForUser(_ context.Context, userID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for id := range m.userRoles[userID] {
		if r, ok := m.roles[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

var (
	_ CredentialStore = (*MemStore)(nil)
	_ PermissionStore = (*MemStore)(nil)
)
