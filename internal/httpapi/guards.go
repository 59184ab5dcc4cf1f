package httpapi

import (
	"net/http"
	"strings"

	"peopledesk.org/internal/auth"
)

// Guards are composable authorization middleware. They run after withAuth,
// so a missing identity here means the route table let an unauthenticated
// request through; the guard still fails closed with 401.

// RequirePermission allows the request only when the identity holds the
// permission.
func RequirePermission(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
				return
			}
			if !ident.HasPermission(key) {
				writeError(w, r, http.StatusForbidden, codePermissionDenied, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission allows the request when the identity holds at least
// one of the permissions.
func RequireAnyPermission(keys ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
				return
			}
			if !ident.HasAnyPermission(keys...) {
				writeError(w, r, http.StatusForbidden, codePermissionDenied, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireEmployeeAccess guards employee-scoped sub-resources under
// /v1/employees/{employeeID}/. The request passes when the identity's own
// employee id matches the path, or when it holds an elevated permission for
// the verb: the read set covers GET and HEAD, the write set covers mutating
// methods. A read-level grant never elevates a write on someone else's
// record.
func RequireEmployeeAccess(read, write []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
				return
			}
			employeeID := employeeIDFromPath(r.URL.Path)
			if employeeID == "" {
				writeError(w, r, http.StatusBadRequest, codeValidation, "missing employee id in path")
				return
			}
			elevated := write
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				elevated = read
			}
			if ident.EmployeeID == employeeID || ident.HasAnyPermission(elevated...) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusForbidden, codePermissionDenied, "permission denied")
		})
	}
}

// RequireOwnLeaveAccess specializes the ownership check for leave requests:
// an employee may file leave for themselves; approvers may act on anyone's.
func RequireOwnLeaveAccess() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
				return
			}
			if ident.HasPermission(auth.PermLeaveApprove) {
				next.ServeHTTP(w, r)
				return
			}
			employeeID := employeeIDFromPath(r.URL.Path)
			if employeeID != "" && ident.EmployeeID == employeeID {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusForbidden, codePermissionDenied, "permission denied")
		})
	}
}

// Chain composes middleware left to right: the first element is the
// outermost wrapper.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// employeeIDFromPath pulls the id segment out of /v1/employees/{id}/...
// paths. Returns "" for any other shape.
func employeeIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/employees/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
