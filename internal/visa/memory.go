package visa

import (
	"context"
	"sort"
	"strings"
	"sync"

	"kampus.org/internal/errs"
)

// InMemory is a Repository backed by maps under one lock, so every
// multi-row write is atomic.
type InMemory struct {
	mu         sync.RWMutex
	visas      map[string]Visa
	extensions map[string]Extension

	// failVisaWrite, when set, aborts DecideExtension after the extension
	// row was staged and before the visa row is written.
	failVisaWrite error
}

// NewInMemory returns an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{visas: make(map[string]Visa), extensions: make(map[string]Extension)}
}

func (m *InMemory) CreateVisa(_ context.Context, v Visa) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.visas[v.ID]; ok {
		return errs.ErrConflict
	}
	for _, other := range m.visas {
		if strings.EqualFold(other.Number, v.Number) {
			return errs.ErrConflict
		}
	}
	m.visas[v.ID] = v
	return nil
}

func (m *InMemory) GetVisa(_ context.Context, id string) (Visa, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visas[id]
	if !ok {
		return Visa{}, errs.ErrNotFound
	}
	return v, nil
}

func (m *InMemory) ListVisas(_ context.Context, f Filter) ([]Visa, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Visa, 0, len(m.visas))
	for _, v := range m.visas {
		if f.Matches(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UpdateVisa(_ context.Context, v Visa, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.visas[v.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Status != from || cur.Version != v.Version {
		return errs.ErrStale
	}
	cur.Status = v.Status
	cur.ReminderSent = v.ReminderSent
	cur.CancelReason = v.CancelReason
	cur.UpdatedAt = v.UpdatedAt
	cur.Version++
	m.visas[v.ID] = cur
	return nil
}

func (m *InMemory) OpenExtension(_ context.Context, e Extension, visaFrom Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visas[e.VisaID]
	if !ok {
		return errs.ErrNotFound
	}
	if v.Status != visaFrom {
		return errs.ErrStale
	}
	for _, other := range m.extensions {
		if other.VisaID == e.VisaID && other.Status == ExtensionPending {
			return errs.ErrConflict
		}
	}
	m.extensions[e.ID] = e
	return nil
}

func (m *InMemory) GetExtension(_ context.Context, id string) (Extension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.extensions[id]
	if !ok {
		return Extension{}, errs.ErrNotFound
	}
	return e, nil
}

func (m *InMemory) ListExtensions(_ context.Context, f ExtensionFilter) ([]Extension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Extension, 0)
	for _, e := range m.extensions {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) DecideExtension(_ context.Context, e Extension, from ExtensionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.extensions[e.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Status != from {
		return errs.ErrStale
	}
	if e.Status != ExtensionApproved {
		m.extensions[e.ID] = e
		return nil
	}
	v, ok := m.visas[e.VisaID]
	if !ok {
		return errs.ErrNotFound
	}
	if err := CheckApproval(v, e.RequestedExpiresAt); err != nil {
		return err
	}
	if m.failVisaWrite != nil {
		return m.failVisaWrite
	}
	v.ExpiresAt = e.RequestedExpiresAt
	v.ReminderSent = false
	v.UpdatedAt = e.UpdatedAt
	v.Version++
	m.extensions[e.ID] = e
	m.visas[v.ID] = v
	return nil
}
