package httpapi

import (
	"net/http"
	"strings"

	"peopledesk.org/internal/audit"
)

// handleRoles serves /v1/roles.
func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		audit.Record(r.Context(), audit.EventRoleChanged, map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		writeJSON(w, r, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleByID serves /v1/roles/{roleID} and /v1/roles/{roleID}/permissions.
func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request) {
	roleID, rest := splitResourcePath(r.URL.Path, "/v1/roles/")
	if roleID == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}
	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		role, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, role)
	case "permissions":
		a.handleRolePermissions(w, r, roleID)
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		perms, err := a.rbac.RolePermissions(r.Context(), roleID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"role_id": roleID, "permissions": perms})
	case http.MethodPut:
		var req struct {
			Permissions []string `json:"permissions"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		if err := a.rbac.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
			writeServiceError(w, r, err)
			return
		}
		audit.Record(r.Context(), audit.EventRoleChanged, map[string]any{
			"role_id":     roleID,
			"permissions": req.Permissions,
		})
		writeJSON(w, r, http.StatusOK, map[string]any{"role_id": roleID, "permissions": req.Permissions})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// handlePermissions serves /v1/permissions.
func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		perms, err := a.rbac.ListPermissions(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"permissions": perms})
	case http.MethodPost:
		var req struct {
			Key         string `json:"key"`
			Description string `json:"description"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		perm, err := a.rbac.CreatePermission(r.Context(), req.Key, req.Description)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		audit.Record(r.Context(), audit.EventPermChanged, map[string]any{
			"permission_id": perm.ID,
			"key":           perm.Key,
		})
		writeJSON(w, r, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleUsers serves the user administration sub-resources:
// /v1/users/{userID}/roles, /v1/users/{userID}/roles/{roleID} and
// /v1/users/{userID}/employee.
func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	userID, rest := splitResourcePath(r.URL.Path, "/v1/users/")
	if userID == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}
	sub, roleID, _ := strings.Cut(rest, "/")
	switch sub {
	case "roles":
	case "employee":
		a.handleUserEmployeeLink(w, r, userID)
		return
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}
	switch {
	case roleID == "" && r.Method == http.MethodGet:
		roles, err := a.rbac.UserRoles(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"user_id": userID, "roles": roles})
	case roleID == "" && r.Method == http.MethodPost:
		var req struct {
			RoleID string `json:"role_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		assignment, err := a.rbac.AssignRoleToUser(r.Context(), userID, req.RoleID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		audit.Record(r.Context(), audit.EventRoleGranted, map[string]any{
			"user_id": userID,
			"role_id": req.RoleID,
		})
		writeJSON(w, r, http.StatusCreated, assignment)
	case roleID != "" && r.Method == http.MethodDelete:
		if err := a.rbac.RemoveRoleFromUser(r.Context(), userID, roleID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		audit.Record(r.Context(), audit.EventRoleRevoked, map[string]any{
			"user_id": userID,
			"role_id": roleID,
		})
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "role removed"})
	case roleID == "":
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	default:
		methodNotAllowed(w, r, http.MethodDelete)
	}
}

// handleUserEmployeeLink attaches or clears the account's employee record.
func (a *API) handleUserEmployeeLink(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req struct {
		EmployeeID string `json:"employee_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.svc.LinkEmployee(r.Context(), userID, req.EmployeeID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{
		"user_id":     userID,
		"employee_id": req.EmployeeID,
	})
}

// splitResourcePath strips the prefix and splits the remainder into the id
// segment and whatever follows it.
func splitResourcePath(path, prefix string) (id, rest string) {
	trimmed, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return "", ""
	}
	id, rest, _ = strings.Cut(trimmed, "/")
	return id, rest
}
