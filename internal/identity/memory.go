package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kampus.org/internal/errs"
	"kampus.org/internal/ids"
)

type pair struct{ a, b string }

// InMemory is a Store kept in process memory. It mirrors the SQL store's
// constraints and is used by tests and single-node development runs.
type InMemory struct {
	mu sync.RWMutex

	users       map[string]User
	roles       map[string]Role
	permissions map[string]Permission
	actions     map[string]Action

	userRoles   map[pair]struct{}
	rolePerms   map[pair]struct{}
	permActions map[pair]struct{}

	now func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty graph.
func NewInMemory() *InMemory {
	return &InMemory{
		users:       make(map[string]User),
		roles:       make(map[string]Role),
		permissions: make(map[string]Permission),
		actions:     make(map[string]Action),
		userRoles:   make(map[pair]struct{}),
		rolePerms:   make(map[pair]struct{}),
		permActions: make(map[pair]struct{}),
		now:         time.Now,
	}
}

func (m *InMemory) User(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", errs.ErrNotFound, id)
	}
	return u, nil
}

func (m *InMemory) UserByEmail(_ context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: user %s", errs.ErrNotFound, email)
}

func (m *InMemory) EffectiveActions(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok || !u.Active {
		return nil, nil
	}
	var out []string
	for ur := range m.userRoles {
		if ur.a != userID || !m.roles[ur.b].Active {
			continue
		}
		for rp := range m.rolePerms {
			if rp.a != ur.b || !m.permissions[rp.b].Active {
				continue
			}
			for pa := range m.permActions {
				if pa.a != rp.b {
					continue
				}
				if act, ok := m.actions[pa.b]; ok && act.Active {
					out = append(out, act.Code)
				}
			}
		}
	}
	return out, nil
}

func (m *InMemory) RoleByCode(_ context.Context, code string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if r.Code == code {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("%w: role %s", errs.ErrNotFound, code)
}

func (m *InMemory) PermissionByCode(_ context.Context, code string) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.permissions {
		if p.Code == code {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("%w: permission %s", errs.ErrNotFound, code)
}

func (m *InMemory) ActionByCode(_ context.Context, code string) (Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.actions {
		if a.Code == code {
			return a, nil
		}
	}
	return Action{}, fmt.Errorf("%w: action %s", errs.ErrNotFound, code)
}

func (m *InMemory) CreateUser(_ context.Context, u User) (User, error) {
	u.Email = normalizeEmail(u.Email)
	if u.Email == "" {
		return User{}, errs.Validation("email is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return User{}, fmt.Errorf("%w: email %s", errs.ErrConflict, u.Email)
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, ok := m.users[u.ID]; ok {
		return User{}, fmt.Errorf("%w: user %s", errs.ErrConflict, u.ID)
	}
	u.CreatedAt = m.now().UTC()
	m.users[u.ID] = u
	return u, nil
}

func (m *InMemory) CreateRole(_ context.Context, code string) (Role, error) {
	code, err := requireCode(code)
	if err != nil {
		return Role{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Code == code {
			return Role{}, fmt.Errorf("%w: role %s", errs.ErrConflict, code)
		}
	}
	r := Role{ID: ids.New(), Code: code, Active: true, CreatedAt: m.now().UTC()}
	m.roles[r.ID] = r
	return r, nil
}

func (m *InMemory) CreatePermission(_ context.Context, code string) (Permission, error) {
	code, err := requireCode(code)
	if err != nil {
		return Permission{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.permissions {
		if p.Code == code {
			return Permission{}, fmt.Errorf("%w: permission %s", errs.ErrConflict, code)
		}
	}
	p := Permission{ID: ids.New(), Code: code, Active: true, CreatedAt: m.now().UTC()}
	m.permissions[p.ID] = p
	return p, nil
}

func (m *InMemory) CreateAction(_ context.Context, code, category string) (Action, error) {
	code, err := requireCode(code)
	if err != nil {
		return Action{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a.Code == code {
			return Action{}, fmt.Errorf("%w: action %s", errs.ErrConflict, code)
		}
	}
	a := Action{ID: ids.New(), Code: code, Category: strings.TrimSpace(category), Active: true, CreatedAt: m.now().UTC()}
	m.actions[a.ID] = a
	return a, nil
}

func (m *InMemory) AssignRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return fmt.Errorf("%w: user %s", errs.ErrNotFound, userID)
	}
	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", errs.ErrNotFound, roleID)
	}
	return link(m.userRoles, pair{userID, roleID})
}

func (m *InMemory) RevokeRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unlink(m.userRoles, pair{userID, roleID})
}

func (m *InMemory) GrantPermission(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", errs.ErrNotFound, roleID)
	}
	if _, ok := m.permissions[permissionID]; !ok {
		return fmt.Errorf("%w: permission %s", errs.ErrNotFound, permissionID)
	}
	return link(m.rolePerms, pair{roleID, permissionID})
}

func (m *InMemory) RevokePermission(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unlink(m.rolePerms, pair{roleID, permissionID})
}

func (m *InMemory) AttachAction(_ context.Context, permissionID, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[permissionID]; !ok {
		return fmt.Errorf("%w: permission %s", errs.ErrNotFound, permissionID)
	}
	if _, ok := m.actions[actionID]; !ok {
		return fmt.Errorf("%w: action %s", errs.ErrNotFound, actionID)
	}
	return link(m.permActions, pair{permissionID, actionID})
}

func (m *InMemory) DetachAction(_ context.Context, permissionID, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unlink(m.permActions, pair{permissionID, actionID})
}

func (m *InMemory) SetActive(_ context.Context, kind NodeKind, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case NodeUser:
		u, ok := m.users[id]
		if !ok {
			break
		}
		u.Active = active
		m.users[id] = u
		return nil
	case NodeRole:
		r, ok := m.roles[id]
		if !ok {
			break
		}
		r.Active = active
		m.roles[id] = r
		return nil
	case NodePermission:
		p, ok := m.permissions[id]
		if !ok {
			break
		}
		p.Active = active
		m.permissions[id] = p
		return nil
	case NodeAction:
		a, ok := m.actions[id]
		if !ok {
			break
		}
		a.Active = active
		m.actions[id] = a
		return nil
	default:
		return errs.Validation("unknown node kind %q", kind)
	}
	return fmt.Errorf("%w: %s %s", errs.ErrNotFound, kind, id)
}

func link(set map[pair]struct{}, p pair) error {
	if _, ok := set[p]; ok {
		return fmt.Errorf("%w: link %s/%s already exists", errs.ErrConflict, p.a, p.b)
	}
	set[p] = struct{}{}
	return nil
}

func unlink(set map[pair]struct{}, p pair) error {
	if _, ok := set[p]; !ok {
		return fmt.Errorf("%w: link %s/%s", errs.ErrNotFound, p.a, p.b)
	}
	delete(set, p)
	return nil
}

func requireCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errs.Validation("code is required")
	}
	return code, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
