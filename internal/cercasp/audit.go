package cercasp

import (
	"context"
	"time"
)

// Audit actions written by the core.
const (
	ActionLogin           = "login"
	ActionLogout          = "logout"
	ActionSessionExpired  = "session_expired"
	ActionPasswordChanged = "password_changed"
	ActionCreate          = "create"
	ActionUpdate          = "update"
	ActionQueued          = "queued"
)

// LogEntry is one append-only audit record. Checksum covers every other field.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	ActorID    string         `json:"actorId"`
	ActorEmail string         `json:"actorEmail"`
	ActorRole  string         `json:"actorRole"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Checksum   string         `json:"checksum,omitempty"`
}

// Actor identifies who performed an audited action.
type Actor struct {
	ID        string
	Email     string
	Role      Role
	UserAgent string
}

// ActorFromIdentity builds an Actor for identity.
func ActorFromIdentity(identity Identity, userAgent string) Actor {
	return Actor{ID: identity.ID, Email: identity.Email, Role: identity.Role, UserAgent: userAgent}
}

// AuditRecorder appends audit entries without ever failing the caller.
type AuditRecorder interface {
	Record(ctx context.Context, actor Actor, action string, details map[string]any)
}

// NopAuditRecorder drops every entry.
type NopAuditRecorder struct{}

func (NopAuditRecorder) Record(context.Context, Actor, string, map[string]any) {}
