package identity

import (
	"context"
	"fmt"
	"strings"

	"kampus.org/internal/errs"
)

// TokenRevoker invalidates every refresh credential of a user.
type TokenRevoker interface {
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// ActionManage is required by every Admin operation.
const ActionManage = "identity.manage"

// Actor is the caller of an administrative operation.
type Actor interface {
	Has(code string) bool
}

// Admin performs graph mutations on behalf of an actor holding ActionManage.
type Admin struct {
	store   Store
	revoker TokenRevoker
}

// NewAdmin constructs Admin. revoker may be nil when no token store is wired.
func NewAdmin(store Store, revoker TokenRevoker) *Admin {
	return &Admin{store: store, revoker: revoker}
}

func authorize(actor Actor) error {
	if actor == nil || !actor.Has(ActionManage) {
		return errs.Forbidden(ActionManage)
	}
	return nil
}

// CreateUser registers an active user with a bcrypt password hash.
func (a *Admin) CreateUser(ctx context.Context, actor Actor, email, password, unit string) (User, error) {
	if err := authorize(actor); err != nil {
		return User{}, err
	}
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, errs.Validation("a valid email is required")
	}
	if len(password) < 8 {
		return User{}, errs.Validation("password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return a.store.CreateUser(ctx, User{
		Email:        email,
		PasswordHash: hash,
		Unit:         strings.TrimSpace(unit),
		Active:       true,
	})
}

// CreateRole adds a role.
func (a *Admin) CreateRole(ctx context.Context, actor Actor, code string) (Role, error) {
	if err := authorize(actor); err != nil {
		return Role{}, err
	}
	return a.store.CreateRole(ctx, code)
}

// CreatePermission adds a permission.
func (a *Admin) CreatePermission(ctx context.Context, actor Actor, code string) (Permission, error) {
	if err := authorize(actor); err != nil {
		return Permission{}, err
	}
	return a.store.CreatePermission(ctx, code)
}

// CreateAction adds an action code.
func (a *Admin) CreateAction(ctx context.Context, actor Actor, code, category string) (Action, error) {
	if err := authorize(actor); err != nil {
		return Action{}, err
	}
	return a.store.CreateAction(ctx, code, category)
}

// Link creates an edge of the graph. kind names the parent side: user → role,
// role → permission, permission → action.
func (a *Admin) Link(ctx context.Context, actor Actor, kind NodeKind, parentID, childID string) error {
	if err := authorize(actor); err != nil {
		return err
	}
	switch kind {
	case NodeUser:
		return a.store.AssignRole(ctx, parentID, childID)
	case NodeRole:
		return a.store.GrantPermission(ctx, parentID, childID)
	case NodePermission:
		return a.store.AttachAction(ctx, parentID, childID)
	}
	return errs.Validation("cannot link from %q", kind)
}

// Unlink removes an edge created by Link.
func (a *Admin) Unlink(ctx context.Context, actor Actor, kind NodeKind, parentID, childID string) error {
	if err := authorize(actor); err != nil {
		return err
	}
	switch kind {
	case NodeUser:
		return a.store.RevokeRole(ctx, parentID, childID)
	case NodeRole:
		return a.store.RevokePermission(ctx, parentID, childID)
	case NodePermission:
		return a.store.DetachAction(ctx, parentID, childID)
	}
	return errs.Validation("cannot unlink from %q", kind)
}

// SetActive toggles a node. Deactivating a user also revokes all of the
// user's refresh credentials so no new access token can be minted.
func (a *Admin) SetActive(ctx context.Context, actor Actor, kind NodeKind, id string, active bool) error {
	if err := authorize(actor); err != nil {
		return err
	}
	if !kind.Valid() {
		return errs.Validation("unknown node kind %q", kind)
	}
	if err := a.store.SetActive(ctx, kind, id, active); err != nil {
		return err
	}
	if kind == NodeUser && !active && a.revoker != nil {
		if _, err := a.revoker.RevokeAll(ctx, id); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", errs.Unavailable(err))
		}
	}
	return nil
}
