package httpapi

import (
	"fmt"
	"net/http"

	"kampus.org/internal/audit"
	"kampus.org/internal/visa"
)

func (a *API) createVisa(w http.ResponseWriter, r *http.Request) {
	var in visa.Input
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	v, err := a.Visas.Create(r.Context(), principal(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "visa.create", map[string]any{"id": v.ID, "number": v.Number})
	w.Header().Set("Location", fmt.Sprintf("/v1/visas/%s", v.ID))
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) listVisas(w http.ResponseWriter, r *http.Request) {
	status, err := statusQuery(r, visa.Statuses())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	visas, err := a.Visas.List(r.Context(), principal(r), visa.Filter{Status: status})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": visas})
}

func (a *API) getVisa(w http.ResponseWriter, r *http.Request) {
	fetch(a, w, r, a.Visas.Get)
}

func (a *API) requestExtension(w http.ResponseWriter, r *http.Request) {
	var in visa.ExtensionInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	e, err := a.Visas.RequestExtension(r.Context(), principal(r), pathID(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "visa.extension.request", map[string]any{
		"id":      e.ID,
		"visa_id": e.VisaID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/visa-extensions/%s", e.ID))
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) listExtensions(w http.ResponseWriter, r *http.Request) {
	fetch(a, w, r, a.Visas.ListExtensions)
}

func (a *API) remindVisa(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "visa.remind", a.Visas.Remind)
}

func (a *API) expireVisa(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "visa.expire", a.Visas.Expire)
}

func (a *API) cancelVisa(w http.ResponseWriter, r *http.Request) {
	stepWithReason(a, w, r, "visa.cancel", a.Visas.Cancel)
}

func (a *API) getExtension(w http.ResponseWriter, r *http.Request) {
	fetch(a, w, r, a.Visas.GetExtension)
}

func (a *API) approveExtension(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "visa.extension.approve", a.Visas.ApproveExtension)
}

func (a *API) rejectExtension(w http.ResponseWriter, r *http.Request) {
	stepWithReason(a, w, r, "visa.extension.reject", a.Visas.RejectExtension)
}
