package auth

import (
	"context"
	"errors"
	"testing"
)

func newTestRBAC(t *testing.T, store *MemStore) *RBACService {
	t.Helper()
	svc, err := NewRBACService(store)
	if err != nil {
		t.Fatalf("rbac service: %v", err)
	}
	return svc
}

func TestCreateRoleValidatesName(t *testing.T) {
	svc := newTestRBAC(t, NewMemStore())
	if _, err := svc.CreateRole(context.Background(), "  ", "no name"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name: got %v, want ErrInvalidInput", err)
	}
	role, err := svc.CreateRole(context.Background(), "  auditor  ", " read-only ")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if role.Name != "auditor" || role.Description != "read-only" {
		t.Fatalf("inputs not trimmed: %+v", role)
	}
	if role.ID == "" {
		t.Fatal("role id not assigned")
	}
}

func TestCreateRoleDuplicateName(t *testing.T) {
	svc := newTestRBAC(t, NewMemStore())
	if _, err := svc.CreateRole(context.Background(), "auditor", ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.CreateRole(context.Background(), "auditor", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate: got %v, want ErrConflict", err)
	}
}

func TestCreatePermissionEnforcesKeyConvention(t *testing.T) {
	svc := newTestRBAC(t, NewMemStore())

	if _, err := svc.CreatePermission(context.Background(), "no-colon", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad key: got %v, want ErrInvalidInput", err)
	}
	perm, err := svc.CreatePermission(context.Background(), " Payroll:Read ", "read payroll")
	if err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if perm.Key != "payroll:read" {
		t.Fatalf("key not lowercased: %q", perm.Key)
	}
	if perm.Resource != "payroll" || perm.Action != "read" {
		t.Fatalf("key not split: %+v", perm)
	}
}

func TestSetRolePermissionsReplacesAndDedupes(t *testing.T) {
	store := NewMemStore()
	svc := newTestRBAC(t, store)
	ctx := context.Background()

	if err := store.EnsurePermissions(ctx, BuiltinPermissions); err != nil {
		t.Fatalf("ensure permissions: %v", err)
	}
	role, err := svc.CreateRole(ctx, "reader", "")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	keys := []string{PermEmployeeRead, PermEmployeeRead, PermLeaveRead, " "}
	if err := svc.SetRolePermissions(ctx, role.ID, keys); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	perms, err := svc.RolePermissions(ctx, role.ID)
	if err != nil {
		t.Fatalf("list permissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("got %d permissions, want 2 (deduped)", len(perms))
	}

	// replacing shrinks the set, it never appends
	if err := svc.SetRolePermissions(ctx, role.ID, []string{PermLeaveRead}); err != nil {
		t.Fatalf("replace permissions: %v", err)
	}
	perms, _ = svc.RolePermissions(ctx, role.ID)
	if len(perms) != 1 || perms[0].Key != PermLeaveRead {
		t.Fatalf("replacement kept stale grants: %+v", perms)
	}
}

func TestSetRolePermissionsUnknownRole(t *testing.T) {
	svc := newTestRBAC(t, NewMemStore())
	err := svc.SetRolePermissions(context.Background(), "missing", []string{PermEmployeeRead})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestAssignAndRemoveRole(t *testing.T) {
	store := NewMemStore()
	svc := newTestRBAC(t, store)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "approver", "")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	assignment, err := svc.AssignRoleToUser(ctx, "u1", role.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assignment.UserID != "u1" || assignment.RoleID != role.ID {
		t.Fatalf("assignment = %+v", assignment)
	}
	if _, err := svc.AssignRoleToUser(ctx, "u1", role.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("double grant: got %v, want ErrConflict", err)
	}

	roles, err := svc.UserRoles(ctx, "u1")
	if err != nil || len(roles) != 1 {
		t.Fatalf("user roles = %v, %v", roles, err)
	}

	if err := svc.RemoveRoleFromUser(ctx, "u1", role.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := svc.RemoveRoleFromUser(ctx, "u1", role.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove again: got %v, want ErrNotFound", err)
	}
}
