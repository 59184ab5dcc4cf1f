package auth

import "context"

// Identity is the authenticated caller attached to a request context by the
// middleware chain. Permissions are resolved once per request, before guards
// run, so guard checks are map lookups.
type Identity struct {
	UserID      string
	EmployeeID  string
	Roles       []Role
	Permissions map[string]struct{}
}

// HasPermission reports whether the identity holds the permission key.
func (id Identity) HasPermission(key string) bool {
	_, ok := id.Permissions[key]
	return ok
}

// HasAnyPermission reports whether at least one of the keys is held.
func (id Identity) HasAnyPermission(keys ...string) bool {
	for _, key := range keys {
		if id.HasPermission(key) {
			return true
		}
	}
	return false
}

// HasRole reports whether the identity carries a role with the given name.
func (id Identity) HasRole(name string) bool {
	for _, role := range id.Roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

type identityContextKey struct{}
type tokenContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &identity)
}

// IdentityFromContext extracts the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.UserID == "" {
		return "", false
	}
	return identity.UserID, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
