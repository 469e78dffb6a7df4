package identity

import (
	"context"
	"errors"
	"fmt"

	"kampus.org/internal/errs"
)

// Catalog declares roles, permissions and actions to bootstrap a graph.
type Catalog struct {
	Actions     []CatalogAction     `yaml:"actions"`
	Permissions map[string][]string `yaml:"permissions"` // permission code -> action codes
	Roles       map[string][]string `yaml:"roles"`       // role code -> permission codes
}

// CatalogAction is one action entry of a Catalog.
type CatalogAction struct {
	Code     string `yaml:"code"`
	Category string `yaml:"category"`
}

// Apply creates every node and link of c that does not exist yet. Existing
// nodes keep their active flag, so a deactivated node stays deactivated.
func (c Catalog) Apply(ctx context.Context, store Store) error {
	actionIDs := make(map[string]string, len(c.Actions))
	for _, a := range c.Actions {
		act, err := store.CreateAction(ctx, a.Code, a.Category)
		if errors.Is(err, errs.ErrConflict) {
			act, err = store.ActionByCode(ctx, a.Code)
		}
		if err != nil {
			return fmt.Errorf("action %s: %w", a.Code, err)
		}
		actionIDs[a.Code] = act.ID
	}

	permIDs := make(map[string]string, len(c.Permissions))
	for code, actions := range c.Permissions {
		perm, err := store.CreatePermission(ctx, code)
		if errors.Is(err, errs.ErrConflict) {
			perm, err = store.PermissionByCode(ctx, code)
		}
		if err != nil {
			return fmt.Errorf("permission %s: %w", code, err)
		}
		permIDs[code] = perm.ID
		for _, ac := range actions {
			id, ok := actionIDs[ac]
			if !ok {
				act, err := store.ActionByCode(ctx, ac)
				if err != nil {
					return fmt.Errorf("permission %s: action %s: %w", code, ac, err)
				}
				id = act.ID
			}
			if err := store.AttachAction(ctx, perm.ID, id); err != nil && !errors.Is(err, errs.ErrConflict) {
				return fmt.Errorf("permission %s: attach %s: %w", code, ac, err)
			}
		}
	}

	for code, perms := range c.Roles {
		role, err := store.CreateRole(ctx, code)
		if errors.Is(err, errs.ErrConflict) {
			role, err = store.RoleByCode(ctx, code)
		}
		if err != nil {
			return fmt.Errorf("role %s: %w", code, err)
		}
		for _, pc := range perms {
			id, ok := permIDs[pc]
			if !ok {
				perm, err := store.PermissionByCode(ctx, pc)
				if err != nil {
					return fmt.Errorf("role %s: permission %s: %w", code, pc, err)
				}
				id = perm.ID
			}
			if err := store.GrantPermission(ctx, role.ID, id); err != nil && !errors.Is(err, errs.ErrConflict) {
				return fmt.Errorf("role %s: grant %s: %w", code, pc, err)
			}
		}
	}
	return nil
}
