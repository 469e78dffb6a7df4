package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kampus.org/internal/errs"
	"kampus.org/internal/identity"
	"kampus.org/internal/ids"
)

var _ identity.Store = (*Store)(nil)

// effectiveActionsQuery walks user -> role -> permission -> action and keeps
// only fully active paths.
const effectiveActionsQuery = `
	select distinct a.code
	from users u
	join user_roles ur on ur.user_id = u.id
	join roles r on r.id = ur.role_id and r.is_active
	join role_permissions rp on rp.role_id = r.id
	join permissions p on p.id = rp.permission_id and p.is_active
	join permission_actions pa on pa.permission_id = p.id
	join actions a on a.id = pa.action_id and a.is_active
	where u.id = $1 and u.is_active
	order by a.code
`

const userColumns = `id, email, password_hash, coalesce(unit, ''), is_active, created_at`

func scanUser(row interface{ Scan(...any) error }) (identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Unit, &u.Active, &u.CreatedAt)
	return u, err
}

func (s *Store) User(ctx context.Context, id string) (identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if err != nil {
		return identity.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (identity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	if err != nil {
		return identity.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) EffectiveActions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, effectiveActionsQuery, userID)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errs.Unavailable(err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Unavailable(err)
	}
	return codes, nil
}

func (s *Store) RoleByCode(ctx context.Context, code string) (identity.Role, error) {
	var r identity.Role
	err := s.db.QueryRowContext(ctx, `select id, code, is_active, created_at from roles where code = $1`, code).
		Scan(&r.ID, &r.Code, &r.Active, &r.CreatedAt)
	if err != nil {
		return identity.Role{}, mapError(err)
	}
	return r, nil
}

func (s *Store) PermissionByCode(ctx context.Context, code string) (identity.Permission, error) {
	var p identity.Permission
	err := s.db.QueryRowContext(ctx, `select id, code, is_active, created_at from permissions where code = $1`, code).
		Scan(&p.ID, &p.Code, &p.Active, &p.CreatedAt)
	if err != nil {
		return identity.Permission{}, mapError(err)
	}
	return p, nil
}

func (s *Store) ActionByCode(ctx context.Context, code string) (identity.Action, error) {
	var a identity.Action
	err := s.db.QueryRowContext(ctx, `select id, code, coalesce(category, ''), is_active, created_at from actions where code = $1`, code).
		Scan(&a.ID, &a.Code, &a.Category, &a.Active, &a.CreatedAt)
	if err != nil {
		return identity.Action{}, mapError(err)
	}
	return a, nil
}

func (s *Store) CreateUser(ctx context.Context, u identity.User) (identity.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return identity.User{}, errs.Validation("email is required")
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, password_hash, unit, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.PasswordHash, nullIfEmpty(u.Unit), u.Active, u.CreatedAt)
	if err != nil {
		return identity.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) CreateRole(ctx context.Context, code string) (identity.Role, error) {
	id, created, err := s.createNode(ctx, "roles", code, nil)
	if err != nil {
		return identity.Role{}, err
	}
	return identity.Role{ID: id, Code: strings.TrimSpace(code), Active: true, CreatedAt: created}, nil
}

func (s *Store) CreatePermission(ctx context.Context, code string) (identity.Permission, error) {
	id, created, err := s.createNode(ctx, "permissions", code, nil)
	if err != nil {
		return identity.Permission{}, err
	}
	return identity.Permission{ID: id, Code: strings.TrimSpace(code), Active: true, CreatedAt: created}, nil
}

func (s *Store) CreateAction(ctx context.Context, code, category string) (identity.Action, error) {
	category = strings.TrimSpace(category)
	id, created, err := s.createNode(ctx, "actions", code, &category)
	if err != nil {
		return identity.Action{}, err
	}
	return identity.Action{ID: id, Code: strings.TrimSpace(code), Category: category, Active: true, CreatedAt: created}, nil
}

func (s *Store) createNode(ctx context.Context, table, code string, category *string) (string, time.Time, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", time.Time{}, errs.Validation("code is required")
	}
	id := ids.New()
	created := s.now().UTC()
	var err error
	if category != nil {
		_, err = s.db.ExecContext(ctx, `insert into `+table+` (id, code, category, is_active, created_at) values ($1, $2, $3, true, $4)`,
			id, code, nullIfEmpty(*category), created)
	} else {
		_, err = s.db.ExecContext(ctx, `insert into `+table+` (id, code, is_active, created_at) values ($1, $2, true, $3)`,
			id, code, created)
	}
	if err != nil {
		return "", time.Time{}, mapError(err)
	}
	return id, created, nil
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	return s.link(ctx, `insert into user_roles (user_id, role_id) values ($1, $2)`, userID, roleID)
}

func (s *Store) RevokeRole(ctx context.Context, userID, roleID string) error {
	return s.unlink(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID)
}

func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	return s.link(ctx, `insert into role_permissions (role_id, permission_id) values ($1, $2)`, roleID, permissionID)
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	return s.unlink(ctx, `delete from role_permissions where role_id = $1 and permission_id = $2`, roleID, permissionID)
}

func (s *Store) AttachAction(ctx context.Context, permissionID, actionID string) error {
	return s.link(ctx, `insert into permission_actions (permission_id, action_id) values ($1, $2)`, permissionID, actionID)
}

func (s *Store) DetachAction(ctx context.Context, permissionID, actionID string) error {
	return s.unlink(ctx, `delete from permission_actions where permission_id = $1 and action_id = $2`, permissionID, actionID)
}

func (s *Store) link(ctx context.Context, query, a, b string) error {
	if _, err := s.db.ExecContext(ctx, query, a, b); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) unlink(ctx context.Context, query, a, b string) error {
	res, err := s.db.ExecContext(ctx, query, a, b)
	if err != nil {
		return mapError(err)
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: link %s/%s", errs.ErrNotFound, a, b)
	}
	return nil
}

var nodeTables = map[identity.NodeKind]string{
	identity.NodeUser:       "users",
	identity.NodeRole:       "roles",
	identity.NodePermission: "permissions",
	identity.NodeAction:     "actions",
}

func (s *Store) SetActive(ctx context.Context, kind identity.NodeKind, id string, active bool) error {
	table, ok := nodeTables[kind]
	if !ok {
		return errs.Validation("unknown node kind %q", kind)
	}
	res, err := s.db.ExecContext(ctx, `update `+table+` set is_active = $2 where id = $1`, id, active)
	if err != nil {
		return mapError(err)
	}
	found, err := expectOne(res)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s %s", errs.ErrNotFound, kind, id)
	}
	return nil
}
