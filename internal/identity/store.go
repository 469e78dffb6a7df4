package identity

import "context"

// Graph is the read side the resolver depends on.
type Graph interface {
	User(ctx context.Context, id string) (User, error)
	// EffectiveActions returns the codes reachable from the user through
	// active roles, active permissions and active actions. Duplicates are allowed.
	EffectiveActions(ctx context.Context, userID string) ([]string, error)
}

// Store describes persistence of the identity graph.
//
// Implementations return errs.ErrNotFound for unknown nodes, errs.ErrConflict for
// duplicate codes, emails and pairs, and errs.Unavailable for storage failures.
type Store interface {
	Graph

	UserByEmail(ctx context.Context, email string) (User, error)
	RoleByCode(ctx context.Context, code string) (Role, error)
	PermissionByCode(ctx context.Context, code string) (Permission, error)
	ActionByCode(ctx context.Context, code string) (Action, error)

	CreateUser(ctx context.Context, u User) (User, error)
	CreateRole(ctx context.Context, code string) (Role, error)
	CreatePermission(ctx context.Context, code string) (Permission, error)
	CreateAction(ctx context.Context, code, category string) (Action, error)

	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	AttachAction(ctx context.Context, permissionID, actionID string) error
	DetachAction(ctx context.Context, permissionID, actionID string) error

	SetActive(ctx context.Context, kind NodeKind, id string, active bool) error
}
