package auth

import "strings"

// Builtin permission keys. Keys follow the "resource:action" convention; the
// seed migration installs them together with the default roles.
const (
	PermEmployeeRead   = "employee:read"
	PermEmployeeCreate = "employee:create"
	PermEmployeeUpdate = "employee:update"
	PermEmployeeDelete = "employee:delete"

	PermLeaveRead    = "leave:read"
	PermLeaveCreate  = "leave:create"
	PermLeaveApprove = "leave:approve"

	PermAttendanceRead  = "attendance:read"
	PermRecruitmentRead = "recruitment:read"

	PermAdminManageUsers       = "admin:manage_users"
	PermAdminManageRoles       = "admin:manage_roles"
	PermAdminManagePermissions = "admin:manage_permissions"
)

// BuiltinPermissions is the catalog ensured at startup.
var BuiltinPermissions = []Permission{
	{Key: PermEmployeeRead, Description: "Read employee records"},
	{Key: PermEmployeeCreate, Description: "Create employee records"},
	{Key: PermEmployeeUpdate, Description: "Update employee records"},
	{Key: PermEmployeeDelete, Description: "Delete employee records"},
	{Key: PermLeaveRead, Description: "Read leave requests"},
	{Key: PermLeaveCreate, Description: "Create leave requests"},
	{Key: PermLeaveApprove, Description: "Approve leave requests"},
	{Key: PermAttendanceRead, Description: "Read attendance records"},
	{Key: PermRecruitmentRead, Description: "Read job postings and candidates"},
	{Key: PermAdminManageUsers, Description: "Manage user accounts and role grants"},
	{Key: PermAdminManageRoles, Description: "Manage roles"},
	{Key: PermAdminManagePermissions, Description: "Manage the permission catalog"},
}

// SplitPermissionKey breaks "resource:action" into its halves. The second
// return is false when the key does not follow the convention.
func SplitPermissionKey(key string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(key, ":")
	if !ok || resource == "" || action == "" {
		return "", "", false
	}
	return resource, action, true
}
