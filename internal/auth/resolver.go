package auth

import (
	"context"
	"errors"
)

// Resolver answers "what can this user do". It flattens the user → role →
// permission graph into a deduplicated key set. An unknown user resolves to
// the empty set; surfacing 401/404 for missing users is the caller's job.
type Resolver struct {
	perms PermissionStore
}

// NewResolver constructs a Resolver over the permission graph store.
func NewResolver(perms PermissionStore) (*Resolver, error) {
	if perms == nil {
		return nil, errors.New("auth: permission store is required")
	}
	return &Resolver{perms: perms}, nil
}

// ResolvePermissions returns the union, without duplicates, of every
// permission reachable through the user's roles.
func (r *Resolver) ResolvePermissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	roles, err := r.rolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, role := range roles {
		list, err := r.perms.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			set[p.Key] = struct{}{}
		}
	}
	return set, nil
}

// HasPermission is a membership test over the resolved set.
func (r *Resolver) HasPermission(ctx context.Context, userID, key string) (bool, error) {
	set, err := r.ResolvePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := set[key]
	return ok, nil
}

// ResolveRoles returns the role objects backing the permission set.
func (r *Resolver) ResolveRoles(ctx context.Context, userID string) ([]Role, error) {
	return r.rolesForUser(ctx, userID)
}

func (r *Resolver) rolesForUser(ctx context.Context, userID string) ([]Role, error) {
	roles, err := r.perms.RolesForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return roles, nil
}
