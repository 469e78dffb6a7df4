package translation

import (
	"context"
	"sort"
	"sync"

	"kampus.org/internal/errs"
)

// InMemory is a Repository backed by a map.
type InMemory struct {
	mu       sync.RWMutex
	requests map[string]Request
}

// NewInMemory returns an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[string]Request)}
}

func (m *InMemory) CreateRequest(_ context.Context, r Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return errs.ErrConflict
	}
	m.requests[r.ID] = r
	return nil
}

func (m *InMemory) GetRequest(_ context.Context, id string) (Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return Request{}, errs.ErrNotFound
	}
	return r, nil
}

func (m *InMemory) ListRequests(_ context.Context, f Filter) ([]Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Request, 0, len(m.requests))
	for _, r := range m.requests {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateRequest(_ context.Context, r Request, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Status != from || cur.Version != r.Version {
		return errs.ErrStale
	}
	r.Version++
	m.requests[r.ID] = r
	return nil
}
