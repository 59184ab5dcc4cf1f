package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"peopledesk.org/internal/ids"
)

// RBACService exposes the admin operations over the role/permission graph.
// Input normalization and validation happen here; the store only persists.
type RBACService struct {
	store PermissionStore
}

// NewRBACService constructs the admin service.
func NewRBACService(store PermissionStore) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("auth: permission store is required")
	}
	return &RBACService{store: store}, nil
}

// CreateRole registers a new role with a unique name.
func (s *RBACService) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.CreateRole(ctx, &role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// GetRole loads one role by id.
func (s *RBACService) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.FindRoleByID(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	return *role, nil
}

// ListRoles returns every role.
func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// RolePermissions lists the permissions attached to a role.
func (s *RBACService) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if _, err := s.store.FindRoleByID(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.PermissionsForRole(ctx, roleID)
}

// UserRoles lists the roles granted to a user.
func (s *RBACService) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.RolesForUser(ctx, userID)
}

// CreatePermission registers a permission. The key must follow the
// "resource:action" convention; resource and action columns are derived.
func (s *RBACService) CreatePermission(ctx context.Context, key, description string) (Permission, error) {
	key = strings.TrimSpace(strings.ToLower(key))
	resource, action, ok := SplitPermissionKey(key)
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission key must be resource:action", ErrInvalidInput)
	}
	perm := Permission{
		ID:          ids.New(),
		Key:         key,
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.CreatePermission(ctx, &perm); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// ListPermissions returns the full permission catalog.
func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// SetRolePermissions replaces a role's permission set with the given keys.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID string, keys []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if _, err := s.store.FindRoleByID(ctx, roleID); err != nil {
		return err
	}
	return s.store.SetRolePermissions(ctx, roleID, dedupeStrings(keys))
}

// AssignPermissionToRole adds one permission to a role.
func (s *RBACService) AssignPermissionToRole(ctx context.Context, roleID, permissionID string) error {
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	return s.store.AssignPermissionToRole(ctx, roleID, permissionID)
}

// RemovePermissionFromRole detaches one permission from a role.
func (s *RBACService) RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	return s.store.RemovePermissionFromRole(ctx, roleID, permissionID)
}

// AssignRoleToUser grants a role to a user.
func (s *RBACService) AssignRoleToUser(ctx context.Context, userID, roleID string) (RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return s.store.AssignRoleToUser(ctx, userID, roleID)
}

// RemoveRoleFromUser removes a role grant.
func (s *RBACService) RemoveRoleFromUser(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return s.store.RemoveRoleFromUser(ctx, userID, roleID)
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
