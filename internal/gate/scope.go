package gate

import (
	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
)

// ViewPolicy pairs the unrestricted and the owner-restricted view actions of
// an entity kind.
type ViewPolicy struct {
	All string
	Own string
}

// Scope is the row filter derived from a ViewPolicy.
type Scope struct {
	All     bool
	OwnerID string
}

// Resolve returns the widest scope the principal's actions grant. A caller
// holding neither action is forbidden; the error names the Own action as the
// minimum requirement.
func (v ViewPolicy) Resolve(p auth.Principal) (Scope, error) {
	if !p.Authenticated() {
		return Scope{}, auth.ErrInvalidToken
	}
	switch {
	case v.All != "" && p.Has(v.All):
		return Scope{All: true}, nil
	case v.Own != "" && p.Has(v.Own):
		return Scope{OwnerID: p.ID}, nil
	}
	return Scope{}, errs.Forbidden(v.Own)
}

// Permits reports whether a row created by ownerID is visible.
func (s Scope) Permits(ownerID string) bool {
	if s.All {
		return true
	}
	return s.OwnerID != "" && s.OwnerID == ownerID
}
