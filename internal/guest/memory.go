package guest

import (
	"context"
	"slices"
	"sort"
	"sync"

	"kampus.org/internal/errs"
)

// InMemory is a Repository backed by a map; guests and their members are
// written together under one lock.
type InMemory struct {
	mu     sync.RWMutex
	guests map[string]Guest
}

// NewInMemory returns an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{guests: make(map[string]Guest)}
}

func (m *InMemory) CreateGuest(_ context.Context, g Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.guests[g.ID]; ok {
		return errs.ErrConflict
	}
	m.guests[g.ID] = clone(g)
	return nil
}

func (m *InMemory) GetGuest(_ context.Context, id string) (Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guests[id]
	if !ok {
		return Guest{}, errs.ErrNotFound
	}
	return clone(g), nil
}

func (m *InMemory) ListGuests(_ context.Context, f Filter) ([]Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Guest, 0, len(m.guests))
	for _, g := range m.guests {
		if f.Matches(g) {
			out = append(out, clone(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateGuest(_ context.Context, g Guest, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.guests[g.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Status != from || cur.Version != g.Version {
		return errs.ErrStale
	}
	g.Version++
	m.guests[g.ID] = clone(g)
	return nil
}

func clone(g Guest) Guest {
	g.Members = slices.Clone(g.Members)
	return g
}
