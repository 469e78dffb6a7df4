package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kampus.org/internal/errs"
)

// Resolver computes effective action sets from the identity graph.
type Resolver struct {
	graph Graph
}

// NewResolver constructs a resolver over graph.
func NewResolver(graph Graph) *Resolver {
	return &Resolver{graph: graph}
}

// ResolveActions returns the closed set of active action codes for userID.
//
// An unknown or inactive user fails with errs.ErrUnauthenticated. Storage
// failures are returned as errs.ErrUnavailable, never as an empty set.
func (r *Resolver) ResolveActions(ctx context.Context, userID string) (ActionSet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", errs.ErrUnauthenticated)
	}
	user, err := r.graph.User(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", errs.ErrUnauthenticated)
		}
		return nil, errs.Unavailable(err)
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: user is inactive", errs.ErrUnauthenticated)
	}
	codes, err := r.graph.EffectiveActions(ctx, userID)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return NewActionSet(codes...), nil
}
