// Package audit emits structured security events. Events are JSON lines on
// the shared logger so they interleave with request logs and can be shipped
// by the same collector.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"peopledesk.org/internal/auth"
	"peopledesk.org/internal/obs"
)

// Event names recorded by the gateway.
const (
	EventRegister       = "auth.register"
	EventLogin          = "auth.login"
	EventLoginFailed    = "auth.login_failed"
	EventTokenRotated   = "auth.token_rotated"
	EventTokenReuse     = "auth.token_reuse"
	EventLogout         = "auth.logout"
	EventLogoutAll      = "auth.logout_all"
	EventPasswordChange = "auth.password_changed"
	EventRoleGranted    = "rbac.role_granted"
	EventRoleRevoked    = "rbac.role_revoked"
	EventRoleChanged    = "rbac.role_changed"
	EventPermChanged    = "rbac.permission_changed"
)

type entry struct {
	Time    string         `json:"time"`
	Kind    string         `json:"kind"`
	Event   string         `json:"event"`
	ActorID string         `json:"actor_id,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Record writes one audit event. The actor is taken from the request context
// when present; unauthenticated events (failed logins) carry no actor.
func Record(ctx context.Context, event string, fields map[string]any) {
	e := entry{
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
		Kind:   "audit",
		Event:  event,
		Fields: fields,
	}
	if uid, ok := auth.UserIDFromContext(ctx); ok {
		e.ActorID = uid
	}
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	obs.Logger().Println(string(line))
}
