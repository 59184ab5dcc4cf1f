package httpapi

import (
	"net/http"
	"strings"

	"peopledesk.org/internal/auth"
)

// withAuth classifies the request once and, for protected routes, verifies
// the bearer token and attaches the resolved identity to the context. Public
// routes still get an identity attached when a valid token happens to be
// present, so handlers can personalize without requiring auth.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		required := a.classifier.RequiresAuth(r)
		raw := bearerToken(r)
		if raw == "" {
			if required {
				w.Header().Set("WWW-Authenticate", `Bearer realm="peopledesk"`)
				writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		ident, err := a.svc.Authenticate(r.Context(), raw)
		if err != nil {
			if required {
				w.Header().Set("WWW-Authenticate", `Bearer realm="peopledesk", error="invalid_token"`)
				writeServiceError(w, r, err)
				return
			}
			// Optional auth: a bad token on a public route is ignored.
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), ident)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header. The scheme
// comparison is case-insensitive per RFC 9110.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
