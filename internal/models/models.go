package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the access tier resolved for a console session.
type Role int

const (
	RoleAnonymous Role = iota
	RoleUser
	RoleAdmin
)

const (
	wireRoleUser  = "UTILISATEUR"
	wireRoleAdmin = "ADMIN"
)

// ParseRole maps a backend role string to a Role. Unknown values resolve to
// RoleAnonymous with ok=false.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case wireRoleUser, "USER":
		return RoleUser, true
	case wireRoleAdmin:
		return RoleAdmin, true
	default:
		return RoleAnonymous, false
	}
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return wireRoleUser
	case RoleAdmin:
		return wireRoleAdmin
	default:
		return "ANONYMOUS"
	}
}

// Label is the French display name used in forms.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "Utilisateur"
	case RoleAdmin:
		return "Administrateur"
	default:
		return "Anonyme"
	}
}

func (r Role) Authenticated() bool { return r == RoleUser || r == RoleAdmin }

func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Authenticated() {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = RoleAnonymous
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("role: %w", err)
	}
	parsed, ok := ParseRole(s)
	if !ok {
		return fmt.Errorf("role: unknown value %q", s)
	}
	*r = parsed
	return nil
}

// AgentRoles lists the roles an agent record may carry, in form order.
func AgentRoles() []Role { return []Role{RoleUser, RoleAdmin} }

// SessionView is what the console knows about the backend session.
type SessionView struct {
	Role          Role
	TermsAccepted bool
}

func (v SessionView) Anonymous() bool { return !v.Role.Authenticated() }

// Agent is one authorization record. CP is the primary key.
type Agent struct {
	CP     string `json:"cp"`
	Nom    string `json:"nom"`
	Prenom string `json:"prenom"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

type AuditOutcome string

const (
	OutcomeOK       AuditOutcome = "ok"
	OutcomeRejected AuditOutcome = "rejected"
	OutcomeError    AuditOutcome = "error"
)

type AuditEntry struct {
	ID        string       `json:"id"`
	ActorCP   string       `json:"actor_cp"`
	Action    string       `json:"action"`
	Target    string       `json:"target"`
	Outcome   AuditOutcome `json:"outcome"`
	Detail    string       `json:"detail"`
	RequestID string       `json:"request_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

type AuditQuery struct {
	ActorCP string
	Action  string
	Limit   int
	Offset  int
}
