package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"peopledesk.org/internal/audit"
	"peopledesk.org/internal/auth"
	"peopledesk.org/internal/obs"
	"peopledesk.org/internal/ratelimit"
)

const refreshCookieName = "refresh_token"

// tokenPayload is the wire shape of an issued pair.
type tokenPayload struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type sessionPayload struct {
	User        *auth.User   `json:"user"`
	Roles       []auth.Role  `json:"roles"`
	Permissions []string     `json:"permissions"`
	Tokens      tokenPayload `json:"tokens"`
}

func toTokenPayload(pair auth.TokenPair) tokenPayload {
	return tokenPayload{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        pair.ExpiresIn,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func toSessionPayload(s auth.Session) sessionPayload {
	return sessionPayload{
		User:        s.User,
		Roles:       s.Roles,
		Permissions: s.Permissions,
		Tokens:      toTokenPayload(s.Tokens),
	}
}

func (a *API) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/v1/auth",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenFrom prefers the request body and falls back to the cookie so
// both SPA and server-rendered clients work.
func refreshTokenFrom(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	if c, err := r.Cookie(refreshCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	session, err := a.svc.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.EventRegister, map[string]any{
		"user_id": session.User.ID,
		"email":   session.User.Email,
	})
	a.setRefreshCookie(w, session.Tokens.RefreshToken, session.Tokens.RefreshExpiresAt)
	writeJSON(w, r, http.StatusCreated, toSessionPayload(session))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ip := ratelimit.ClientIP(r)
	if !a.loginThrottle.allow(ip) {
		obs.RecordRateLimited()
		writeError(w, r, http.StatusTooManyRequests, codeRateLimited, "too many login attempts")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	session, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.RecordLogin("denied")
		audit.Record(r.Context(), audit.EventLoginFailed, map[string]any{
			"email":     req.Email,
			"remote_ip": ip,
		})
		writeServiceError(w, r, err)
		return
	}
	obs.RecordLogin("ok")
	audit.Record(r.Context(), audit.EventLogin, map[string]any{
		"user_id":   session.User.ID,
		"remote_ip": ip,
	})
	a.setRefreshCookie(w, session.Tokens.RefreshToken, session.Tokens.RefreshExpiresAt)
	writeJSON(w, r, http.StatusOK, toSessionPayload(session))
}

func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	presented := refreshTokenFrom(r, req.RefreshToken)
	if presented == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "refresh token is required")
		return
	}
	pair, err := a.svc.Rotate(r.Context(), presented)
	if err != nil {
		obs.RecordRotation("denied")
		if errors.Is(err, auth.ErrInvalidToken) {
			audit.Record(r.Context(), audit.EventTokenReuse, map[string]any{
				"remote_ip": ratelimit.ClientIP(r),
			})
		}
		a.clearRefreshCookie(w)
		writeServiceError(w, r, err)
		return
	}
	obs.RecordRotation("ok")
	audit.Record(r.Context(), audit.EventTokenRotated, nil)
	a.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, r, http.StatusOK, toTokenPayload(pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if presented := refreshTokenFrom(r, req.RefreshToken); presented != "" {
		if err := a.svc.Logout(r.Context(), presented); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	audit.Record(r.Context(), audit.EventLogout, nil)
	a.clearRefreshCookie(w)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "logged out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
		return
	}
	if err := a.svc.LogoutAll(r.Context(), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.EventLogoutAll, nil)
	a.clearRefreshCookie(w)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "logged out everywhere"})
}

// handleVerifyToken validates an access token for sibling services. The token
// comes from the body, or from the Authorization header when the body omits it.
func (a *API) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	raw := req.Token
	if raw == "" {
		raw = bearerToken(r)
	}
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "token is required")
		return
	}
	ident, err := a.svc.Authenticate(r.Context(), raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	roles := make([]string, 0, len(ident.Roles))
	for _, role := range ident.Roles {
		roles = append(roles, role.Name)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"valid":       true,
		"user_id":     ident.UserID,
		"employee_id": ident.EmployeeID,
		"roles":       roles,
		"permissions": permissionKeys(ident),
	})
}

// handleCheckPermission answers a single permission question. Callers check
// their own permissions; admins may ask about any user.
func (a *API) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
		return
	}
	var req struct {
		Permission string `json:"permission"`
		UserID     string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.Permission == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "permission is required")
		return
	}
	subject := ident.UserID
	if req.UserID != "" && req.UserID != ident.UserID {
		if !ident.HasPermission(auth.PermAdminManageUsers) {
			writeError(w, r, http.StatusForbidden, codePermissionDenied, "permission denied")
			return
		}
		subject = req.UserID
	}
	allowed, err := a.svc.CheckPermission(r.Context(), subject, req.Permission)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"user_id":    subject,
		"permission": req.Permission,
		"allowed":    allowed,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.svc.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.EventPasswordChange, nil)
	a.clearRefreshCookie(w)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "password changed"})
}

func permissionKeys(ident auth.Identity) []string {
	keys := make([]string, 0, len(ident.Permissions))
	for key := range ident.Permissions {
		keys = append(keys, key)
	}
	return keys
}

// ipThrottle is a token-bucket damper applied to login attempts per client
// IP, in front of the fixed-window limiter. Buckets idle past the ttl are
// dropped on the next lookup pass.
type ipThrottle struct {
	mu      sync.Mutex
	buckets map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPThrottle(limit rate.Limit, burst int) *ipThrottle {
	return &ipThrottle{
		buckets: make(map[string]*throttleEntry),
		limit:   limit,
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
}

func (t *ipThrottle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	entry, ok := t.buckets[ip]
	if !ok {
		if len(t.buckets) > 1024 {
			t.evictLocked(now)
		}
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (t *ipThrottle) evictLocked(now time.Time) {
	for ip, entry := range t.buckets {
		if now.Sub(entry.lastSeen) > t.ttl {
			delete(t.buckets, ip)
		}
	}
}
