package config

import (
	"maps"
	"slices"

	"kampus.org/internal/auth"
	"kampus.org/internal/document"
	"kampus.org/internal/guest"
	"kampus.org/internal/identity"
	"kampus.org/internal/stream"
	"kampus.org/internal/translation"
	"kampus.org/internal/visa"
)

// Builtin is the action catalog seeded when the configuration carries none.
func Builtin() identity.Catalog {
	byCategory := map[string][]string{
		"document": {
			document.ActionCreate, document.ActionUpdate, document.ActionSubmit, document.ActionReview,
			document.ActionApprove, document.ActionReject, document.ActionSign, document.ActionActivate,
			document.ActionExpire, document.ActionDelete, document.ActionViewAll, document.ActionViewOwn,
		},
		"visa": {
			visa.ActionCreate, visa.ActionExtend, visa.ActionRemind, visa.ActionExpire, visa.ActionCancel,
			visa.ActionApprove, visa.ActionReject, visa.ActionViewAll, visa.ActionViewOwn,
		},
		"guest": {
			guest.ActionCreate, guest.ActionUpdate, guest.ActionApprove, guest.ActionCheckin,
			guest.ActionCheckout, guest.ActionReject, guest.ActionDelete, guest.ActionViewAll, guest.ActionViewOwn,
		},
		"translation": {
			translation.ActionCreate, translation.ActionApprove, translation.ActionComplete,
			translation.ActionReject, translation.ActionViewAll, translation.ActionViewOwn,
		},
		"system": {auth.ActionManageIdentity, stream.ActionSubscribe},
	}

	var c identity.Catalog
	for _, category := range []string{"document", "visa", "guest", "translation", "system"} {
		for _, code := range byCategory[category] {
			c.Actions = append(c.Actions, identity.CatalogAction{Code: code, Category: category})
		}
	}

	c.Permissions = map[string][]string{
		"document_authoring": {
			document.ActionCreate, document.ActionUpdate, document.ActionSubmit, document.ActionViewOwn,
		},
		"document_management": {
			document.ActionReview, document.ActionApprove, document.ActionReject, document.ActionSign,
			document.ActionActivate, document.ActionExpire, document.ActionDelete, document.ActionViewAll,
		},
		"visa_requests": {visa.ActionCreate, visa.ActionExtend, visa.ActionViewOwn},
		"visa_management": {
			visa.ActionApprove, visa.ActionReject, visa.ActionRemind, visa.ActionExpire, visa.ActionCancel,
			visa.ActionViewAll,
		},
		"guest_requests": {guest.ActionCreate, guest.ActionUpdate, guest.ActionViewOwn},
		"guest_management": {
			guest.ActionApprove, guest.ActionCheckin, guest.ActionCheckout, guest.ActionReject,
			guest.ActionDelete, guest.ActionViewAll,
		},
		"translation_requests": {translation.ActionCreate, translation.ActionViewOwn},
		"translation_management": {
			translation.ActionApprove, translation.ActionComplete, translation.ActionReject,
			translation.ActionViewAll,
		},
		"identity_administration": {auth.ActionManageIdentity},
		"event_monitoring":        {stream.ActionSubscribe},
	}

	c.Roles = map[string][]string{
		"STAFF": {"document_authoring", "visa_requests", "guest_requests", "translation_requests"},
		"DEPARTMENT_OFFICER": {
			"document_authoring", "document_management", "visa_requests", "visa_management",
			"guest_requests", "guest_management", "event_monitoring",
		},
		"TRANSLATOR":  {"translation_requests", "translation_management"},
		"SUPER_ADMIN": slices.Sorted(maps.Keys(c.Permissions)),
	}
	return c
}

// SweeperActions is the default action set of the scheduled jobs.
func SweeperActions() []string {
	return []string{
		visa.ActionRemind, visa.ActionExpire, visa.ActionViewAll,
		document.ActionExpire, document.ActionViewAll,
	}
}
