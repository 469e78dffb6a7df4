package auth

import "kampus.org/internal/identity"

// Principal is the authenticated caller: the user id and the action codes
// embedded in the access credential at issue time.
type Principal struct {
	ID      string
	Actions identity.ActionSet
}

// NewPrincipal constructs a principal from action codes.
func NewPrincipal(id string, actions ...string) Principal {
	return Principal{ID: id, Actions: identity.NewActionSet(actions...)}
}

// Has reports whether the principal holds the action code.
func (p Principal) Has(action string) bool {
	return p.Actions.Has(action)
}

// Authenticated reports whether p identifies a caller.
func (p Principal) Authenticated() bool {
	return p.ID != ""
}
