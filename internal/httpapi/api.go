// Package httpapi is the HTTP surface of the gateway: route classification,
// authentication and authorization middleware, the auth and RBAC endpoints,
// and the guarded passthrough to the HR domain services.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"peopledesk.org/internal/auth"
	"peopledesk.org/internal/obs"
	"peopledesk.org/internal/ratelimit"
)

// ReadyProbe reports whether downstream dependencies can serve traffic.
type ReadyProbe func(ctx context.Context) error

// Config wires the API. Service, RBAC and Limiter are required; Downstream
// may be nil when the gateway runs without the HR services behind it.
type Config struct {
	Service *auth.Service
	RBAC    *auth.RBACService
	Limiter *ratelimit.Limiter
	// Classifier defaults to the gateway rule table when nil.
	Classifier *Classifier
	// Downstream receives guarded /v1/employees and /v1/leave-requests
	// traffic after authentication and authorization.
	Downstream http.Handler
	Ready      ReadyProbe
	Version    string
	// CORSOrigins is the allow list; empty allows any origin.
	CORSOrigins []string
	// MaxBodyBytes defaults to 1 MiB.
	MaxBodyBytes int64
	// CookieSecure marks refresh cookies Secure; on outside local dev.
	CookieSecure bool
	// LoginRatePerMinute and LoginBurst shape the per-IP login damper.
	LoginRatePerMinute float64
	LoginBurst         int
}

// API is the assembled HTTP handler.
type API struct {
	mux           *http.ServeMux
	svc           *auth.Service
	rbac          *auth.RBACService
	limiter       *ratelimit.Limiter
	classifier    *Classifier
	downstream    http.Handler
	ready         ReadyProbe
	version       string
	corsOrigins   []string
	maxBodyBytes  int64
	cookieSecure  bool
	loginThrottle *ipThrottle
}

// New builds the API and registers all routes.
func New(cfg Config) (*API, error) {
	if cfg.Service == nil || cfg.RBAC == nil || cfg.Limiter == nil {
		return nil, errors.New("httpapi: service, rbac and limiter are required")
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = defaultClassifier()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	perMinute := cfg.LoginRatePerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = 5
	}
	a := &API{
		mux:           http.NewServeMux(),
		svc:           cfg.Service,
		rbac:          cfg.RBAC,
		limiter:       cfg.Limiter,
		classifier:    classifier,
		downstream:    cfg.Downstream,
		ready:         cfg.Ready,
		version:       cfg.Version,
		corsOrigins:   cfg.CORSOrigins,
		maxBodyBytes:  maxBody,
		cookieSecure:  cfg.CookieSecure,
		loginThrottle: newIPThrottle(rate.Limit(perMinute/60.0), burst),
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh-token", a.handleRefreshToken)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("/v1/auth/verify-token", a.handleVerifyToken)
	a.mux.HandleFunc("/v1/auth/check-permission", a.handleCheckPermission)
	a.mux.HandleFunc("/v1/auth/change-password", a.handleChangePassword)

	manageRoles := RequirePermission(auth.PermAdminManageRoles)
	managePerms := RequireAnyPermission(auth.PermAdminManageRoles, auth.PermAdminManagePermissions)
	manageUsers := RequirePermission(auth.PermAdminManageUsers)
	a.mux.Handle("/v1/roles", manageRoles(http.HandlerFunc(a.handleRoles)))
	a.mux.Handle("/v1/roles/", manageRoles(http.HandlerFunc(a.handleRoleByID)))
	a.mux.Handle("/v1/permissions", managePerms(http.HandlerFunc(a.handlePermissions)))
	a.mux.Handle("/v1/users/", manageUsers(http.HandlerFunc(a.handleUsers)))

	a.mux.Handle("/v1/employees/", a.guardedDownstream())
	a.mux.Handle("/v1/leave-requests", RequireAnyPermission(
		auth.PermLeaveRead, auth.PermLeaveCreate, auth.PermLeaveApprove,
	)(a.downstreamOr404()))
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	})
}

// guardedDownstream routes employee-scoped sub-resources through the
// ownership guards before handing off to the HR services.
func (a *API) guardedDownstream() http.Handler {
	next := a.downstreamOr404()
	leave := RequireOwnLeaveAccess()(next)
	other := RequireEmployeeAccess(
		[]string{auth.PermEmployeeRead, auth.PermEmployeeUpdate, auth.PermAdminManageUsers},
		[]string{auth.PermEmployeeUpdate, auth.PermAdminManageUsers},
	)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, rest := splitResourcePath(r.URL.Path, "/v1/employees/")
		if rest == "leave-requests" || strings.HasPrefix(rest, "leave-requests/") {
			leave.ServeHTTP(w, r)
			return
		}
		other.ServeHTTP(w, r)
	})
}

func (a *API) downstreamOr404() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.downstream == nil {
			writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		a.downstream.ServeHTTP(w, r)
	})
}

// Handler assembles the middleware chain around the mux. Order matters:
// request ids and logging wrap everything, and the rate limiter sits inside
// authentication so its windows key on the resolved user id, falling back to
// client IP for anonymous traffic.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.limiter.Middleware(h)
	h = a.withAuth(h)
	h = MaxBodyBytes(a.maxBodyBytes)(h)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// Server wraps the handler in an http.Server with sane timeouts.
func (a *API) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
