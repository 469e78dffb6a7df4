package identity

import (
	"sort"
	"time"
)

// User is a human or service account. Unit is the organisational unit the user
// belongs to (faculty, international office).
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Unit         string    `json:"unit,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role groups permissions, e.g. DEPARTMENT_OFFICER.
type Role struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Permission groups actions, e.g. visa_management.
type Permission struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Action is a single permitted operation, e.g. visa.approve.
type Action struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Category  string    `json:"category,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRole links a user to a role.
type UserRole struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

// PermissionAction links a permission to an action.
type PermissionAction struct {
	PermissionID string `json:"permission_id"`
	ActionID     string `json:"action_id"`
}

// NodeKind names a vertex type of the identity graph.
type NodeKind string

const (
	NodeUser       NodeKind = "user"
	NodeRole       NodeKind = "role"
	NodePermission NodeKind = "permission"
	NodeAction     NodeKind = "action"
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeUser, NodeRole, NodePermission, NodeAction:
		return true
	}
	return false
}

// ActionSet is the effective set of action codes of a user.
type ActionSet map[string]struct{}

// NewActionSet builds a set from codes, collapsing duplicates and blanks.
func NewActionSet(codes ...string) ActionSet {
	set := make(ActionSet, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether code is in the set.
func (s ActionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Len returns the number of codes.
func (s ActionSet) Len() int { return len(s) }

// Codes returns the codes in lexical order.
func (s ActionSet) Codes() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same codes.
func (s ActionSet) Equal(other ActionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}
