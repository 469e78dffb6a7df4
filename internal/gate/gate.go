// Package gate is the single enforcement point comparing a required action
// code against the caller's effective action set.
package gate

import (
	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/identity"
)

// Check allows when required is empty or present in actions and otherwise
// returns an *errs.ForbiddenError naming the missing code.
func Check(required string, actions identity.ActionSet) error {
	if required == "" || actions.Has(required) {
		return nil
	}
	return errs.Forbidden(required)
}

// Require applies Check to an authenticated principal.
func Require(p auth.Principal, required string) error {
	if !p.Authenticated() {
		return auth.ErrInvalidToken
	}
	return Check(required, p.Actions)
}

// OwnerOr passes when p created the entity or holds the elevated action.
func OwnerOr(p auth.Principal, ownerID, elevated string) error {
	if p.ID != "" && p.ID == ownerID {
		return nil
	}
	if elevated != "" && p.Has(elevated) {
		return nil
	}
	return &errs.ForbiddenError{Action: elevated, Reason: "only the creator may perform this operation"}
}
