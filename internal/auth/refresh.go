package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kampus.org/internal/errs"
)

// RefreshToken is the server-side record of a refresh credential. Only the
// SHA-256 of the secret half is stored.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RefreshStore persists single-use refresh records.
type RefreshStore interface {
	Save(ctx context.Context, tok RefreshToken) error
	// Consume atomically loads and deletes the record. A second Consume of the
	// same id fails with errs.ErrNotFound.
	Consume(ctx context.Context, id string) (RefreshToken, error)
	// RevokeAll deletes every record of the user and reports how many were removed.
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// MemoryRefreshStore keeps refresh records in process memory.
type MemoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]RefreshToken
}

var _ RefreshStore = (*MemoryRefreshStore)(nil)

// NewMemoryRefreshStore returns an empty store.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{tokens: make(map[string]RefreshToken)}
}

func (m *MemoryRefreshStore) Save(_ context.Context, tok RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tok.ID]; ok {
		return fmt.Errorf("%w: refresh token %s", errs.ErrConflict, tok.ID)
	}
	m.tokens[tok.ID] = tok
	return nil
}

func (m *MemoryRefreshStore) Consume(_ context.Context, id string) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return RefreshToken{}, fmt.Errorf("%w: refresh token", errs.ErrNotFound)
	}
	delete(m.tokens, id)
	return tok, nil
}

func (m *MemoryRefreshStore) RevokeAll(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, tok := range m.tokens {
		if tok.UserID == userID {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}
