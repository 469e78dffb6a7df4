package document

import (
	"context"
	"sort"
	"sync"

	"kampus.org/internal/errs"
)

// InMemory is a Repository backed by a map.
type InMemory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewInMemory returns an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{docs: make(map[string]Document)}
}

func (m *InMemory) CreateDocument(_ context.Context, d Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[d.ID]; ok {
		return errs.ErrConflict
	}
	m.docs[d.ID] = d
	return nil
}

func (m *InMemory) GetDocument(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return Document{}, errs.ErrNotFound
	}
	return d, nil
}

func (m *InMemory) ListDocuments(_ context.Context, f Filter) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateDocument(_ context.Context, d Document, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[d.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Status != from || cur.Version != d.Version {
		return errs.ErrStale
	}
	d.Version++
	m.docs[d.ID] = d
	return nil
}

func (m *InMemory) DeleteDocument(_ context.Context, id string, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[id]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Status != from {
		return errs.ErrStale
	}
	delete(m.docs, id)
	return nil
}
