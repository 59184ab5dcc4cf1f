package auth

import (
	"context"
	"testing"
)

func seedGraph(t *testing.T, store *MemStore) {
	t.Helper()
	ctx := context.Background()

	roles := []Role{
		{ID: "r-hr", Name: "hr_manager"},
		{ID: "r-emp", Name: "employee"},
	}
	for i := range roles {
		if err := store.CreateRole(ctx, &roles[i]); err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}
	perms := []Permission{
		{ID: "p-eread", Key: PermEmployeeRead},
		{ID: "p-eupdate", Key: PermEmployeeUpdate},
		{ID: "p-lread", Key: PermLeaveRead},
	}
	for i := range perms {
		if err := store.CreatePermission(ctx, &perms[i]); err != nil {
			t.Fatalf("seed permission: %v", err)
		}
	}

	// Both roles grant employee:read; dedup must collapse it.
	for _, link := range [][2]string{
		{"r-hr", "p-eread"}, {"r-hr", "p-eupdate"},
		{"r-emp", "p-eread"}, {"r-emp", "p-lread"},
	} {
		if err := store.AssignPermissionToRole(ctx, link[0], link[1]); err != nil {
			t.Fatalf("link permission: %v", err)
		}
	}

	for _, role := range []string{"r-hr", "r-emp"} {
		if _, err := store.AssignRoleToUser(ctx, "u1", role); err != nil {
			t.Fatalf("grant role: %v", err)
		}
	}
}

func TestResolvePermissionsUnionWithoutDuplicates(t *testing.T) {
	store := NewMemStore()
	seedGraph(t, store)
	resolver, err := NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	set, err := resolver.ResolvePermissions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolvePermissions: %v", err)
	}
	if len(set) != 3 {
		t.Fatalf("expected 3 distinct permissions, got %d: %v", len(set), set)
	}
	for _, key := range []string{PermEmployeeRead, PermEmployeeUpdate, PermLeaveRead} {
		if _, ok := set[key]; !ok {
			t.Fatalf("missing permission %s", key)
		}
	}
}

func TestResolvePermissionsUnknownUserIsEmptySet(t *testing.T) {
	store := NewMemStore()
	resolver, err := NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	set, err := resolver.ResolvePermissions(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("expected no error for unknown user, got %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set, got %v", set)
	}
}

func TestHasPermission(t *testing.T) {
	store := NewMemStore()
	seedGraph(t, store)
	resolver, err := NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	ok, err := resolver.HasPermission(context.Background(), "u1", PermLeaveRead)
	if err != nil || !ok {
		t.Fatalf("expected leave:read granted, got ok=%v err=%v", ok, err)
	}
	ok, err = resolver.HasPermission(context.Background(), "u1", PermAdminManageUsers)
	if err != nil || ok {
		t.Fatalf("expected admin:manage_users denied, got ok=%v err=%v", ok, err)
	}
}

func TestResolveRoles(t *testing.T) {
	store := NewMemStore()
	seedGraph(t, store)
	resolver, err := NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	roles, err := resolver.ResolveRoles(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveRoles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
}
