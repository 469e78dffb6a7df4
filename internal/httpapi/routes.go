package httpapi

import (
	"net/http"

	"kampus.org/internal/auth"
	"kampus.org/internal/document"
	"kampus.org/internal/gate"
	"kampus.org/internal/guest"
	"kampus.org/internal/stream"
	"kampus.org/internal/translation"
	"kampus.org/internal/visa"
)

// route binds a method and path to a handler and its gate. A route requires
// either one action code or a view policy; routes with neither are public or
// self-service (authenticated, no action).
type route struct {
	method  string
	path    string
	action  string
	view    *gate.ViewPolicy
	public  bool
	limited bool
	handle  func(*API, http.ResponseWriter, *http.Request)
}

var (
	documentView    = &document.ViewPolicy
	visaView        = &visa.ViewPolicy
	guestView       = &guest.ViewPolicy
	translationView = &translation.ViewPolicy
)

var routes = []route{
	{method: http.MethodGet, path: "/healthz", public: true, handle: (*API).healthz},
	{method: http.MethodGet, path: "/readyz", public: true, handle: (*API).readyz},

	{method: http.MethodPost, path: "/v1/auth/login", public: true, limited: true, handle: (*API).login},
	{method: http.MethodPost, path: "/v1/auth/refresh", public: true, limited: true, handle: (*API).refresh},
	{method: http.MethodPost, path: "/v1/auth/logout", handle: (*API).logout},
	{method: http.MethodGet, path: "/v1/auth/me", handle: (*API).me},

	{method: http.MethodPost, path: "/v1/admin/users", action: auth.ActionManageIdentity, handle: (*API).createUser},
	{method: http.MethodPost, path: "/v1/admin/roles", action: auth.ActionManageIdentity, handle: (*API).createRole},
	{method: http.MethodPost, path: "/v1/admin/permissions", action: auth.ActionManageIdentity, handle: (*API).createPermission},
	{method: http.MethodPost, path: "/v1/admin/actions", action: auth.ActionManageIdentity, handle: (*API).createAction},
	{method: http.MethodPost, path: "/v1/admin/links", action: auth.ActionManageIdentity, handle: (*API).link},
	{method: http.MethodDelete, path: "/v1/admin/links", action: auth.ActionManageIdentity, handle: (*API).unlink},
	{method: http.MethodPut, path: "/v1/admin/nodes/{kind}/{id}/active", action: auth.ActionManageIdentity, handle: (*API).setActive},
	{method: http.MethodGet, path: "/v1/admin/users/{id}/actions", action: auth.ActionManageIdentity, handle: (*API).userActions},
	{method: http.MethodPost, path: "/v1/admin/users/{id}/logout", action: auth.ActionManageIdentity, handle: (*API).logoutEverywhere},

	{method: http.MethodPost, path: "/v1/documents", action: document.ActionCreate, handle: (*API).createDocument},
	{method: http.MethodGet, path: "/v1/documents", view: documentView, handle: (*API).listDocuments},
	{method: http.MethodGet, path: "/v1/documents/{id}", view: documentView, handle: (*API).getDocument},
	{method: http.MethodPut, path: "/v1/documents/{id}", action: document.ActionUpdate, handle: (*API).updateDocument},
	{method: http.MethodDelete, path: "/v1/documents/{id}", action: document.ActionDelete, handle: (*API).deleteDocument},
	{method: http.MethodPost, path: "/v1/documents/{id}/submit", action: document.ActionSubmit, handle: (*API).submitDocument},
	{method: http.MethodPost, path: "/v1/documents/{id}/review", action: document.ActionReview, handle: (*API).reviewDocument},
	{method: http.MethodPost, path: "/v1/documents/{id}/approve", action: document.ActionApprove, handle: (*API).approveDocument},
	{method: http.MethodPost, path: "/v1/documents/{id}/reject", action: document.ActionReject, handle: (*API).rejectDocument},
	{method: http.MethodPost, path: "/v1/documents/{id}/sign", action: document.ActionSign, handle: (*API).signDocument},
	{method: http.MethodPost, path: "/v1/documents/{id}/activate", action: document.ActionActivate, handle: (*API).activateDocument},
	{method: http.MethodPost, path: "/v1/documents/{id}/expire", action: document.ActionExpire, handle: (*API).expireDocument},

	{method: http.MethodPost, path: "/v1/visas", action: visa.ActionCreate, handle: (*API).createVisa},
	{method: http.MethodGet, path: "/v1/visas", view: visaView, handle: (*API).listVisas},
	{method: http.MethodGet, path: "/v1/visas/{id}", view: visaView, handle: (*API).getVisa},
	{method: http.MethodPost, path: "/v1/visas/{id}/extensions", action: visa.ActionExtend, handle: (*API).requestExtension},
	{method: http.MethodGet, path: "/v1/visas/{id}/extensions", view: visaView, handle: (*API).listExtensions},
	{method: http.MethodPost, path: "/v1/visas/{id}/remind", action: visa.ActionRemind, handle: (*API).remindVisa},
	{method: http.MethodPost, path: "/v1/visas/{id}/expire", action: visa.ActionExpire, handle: (*API).expireVisa},
	{method: http.MethodPost, path: "/v1/visas/{id}/cancel", action: visa.ActionCancel, handle: (*API).cancelVisa},
	{method: http.MethodGet, path: "/v1/visa-extensions/{id}", view: visaView, handle: (*API).getExtension},
	{method: http.MethodPost, path: "/v1/visa-extensions/{id}/approve", action: visa.ActionApprove, handle: (*API).approveExtension},
	{method: http.MethodPost, path: "/v1/visa-extensions/{id}/reject", action: visa.ActionReject, handle: (*API).rejectExtension},

	{method: http.MethodPost, path: "/v1/guests", action: guest.ActionCreate, handle: (*API).createGuest},
	{method: http.MethodGet, path: "/v1/guests", view: guestView, handle: (*API).listGuests},
	{method: http.MethodGet, path: "/v1/guests/{id}", view: guestView, handle: (*API).getGuest},
	{method: http.MethodPut, path: "/v1/guests/{id}", action: guest.ActionUpdate, handle: (*API).updateGuest},
	{method: http.MethodPost, path: "/v1/guests/{id}/approve", action: guest.ActionApprove, handle: (*API).approveGuest},
	{method: http.MethodPost, path: "/v1/guests/{id}/checkin", action: guest.ActionCheckin, handle: (*API).checkinGuest},
	{method: http.MethodPost, path: "/v1/guests/{id}/checkout", action: guest.ActionCheckout, handle: (*API).checkoutGuest},
	{method: http.MethodPost, path: "/v1/guests/{id}/reject", action: guest.ActionReject, handle: (*API).rejectGuest},
	{method: http.MethodPost, path: "/v1/guests/{id}/cancel", action: guest.ActionDelete, handle: (*API).cancelGuest},

	{method: http.MethodPost, path: "/v1/translations", action: translation.ActionCreate, handle: (*API).createTranslation},
	{method: http.MethodGet, path: "/v1/translations", view: translationView, handle: (*API).listTranslations},
	{method: http.MethodGet, path: "/v1/translations/{id}", view: translationView, handle: (*API).getTranslation},
	{method: http.MethodPost, path: "/v1/translations/{id}/approve", action: translation.ActionApprove, handle: (*API).approveTranslation},
	{method: http.MethodPost, path: "/v1/translations/{id}/complete", action: translation.ActionComplete, handle: (*API).completeTranslation},
	{method: http.MethodPost, path: "/v1/translations/{id}/reject", action: translation.ActionReject, handle: (*API).rejectTranslation},

	{method: http.MethodGet, path: "/v1/events", action: stream.ActionSubscribe, handle: (*API).events},
}
