package httpapi

import (
	"fmt"
	"net/http"

	"kampus.org/internal/audit"
	"kampus.org/internal/document"
)

func (a *API) createDocument(w http.ResponseWriter, r *http.Request) {
	var in document.Input
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	d, err := a.Documents.Create(r.Context(), principal(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.create", map[string]any{"id": d.ID, "title": d.Title})
	w.Header().Set("Location", fmt.Sprintf("/v1/documents/%s", d.ID))
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	status, err := statusQuery(r, document.Statuses())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	docs, err := a.Documents.List(r.Context(), principal(r), document.Filter{Status: status})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": docs})
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request) {
	fetch(a, w, r, a.Documents.Get)
}

func (a *API) updateDocument(w http.ResponseWriter, r *http.Request) {
	var in document.Input
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	d, err := a.Documents.Update(r.Context(), principal(r), pathID(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.update", map[string]any{"id": d.ID})
	writeJSON(w, http.StatusOK, d)
}

func (a *API) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := a.Documents.Delete(r.Context(), principal(r), pathID(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.delete", map[string]any{"id": pathID(r)})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) submitDocument(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "document.submit", a.Documents.Submit)
}

func (a *API) reviewDocument(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "document.review", a.Documents.Review)
}

func (a *API) approveDocument(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "document.approve", a.Documents.Approve)
}

func (a *API) rejectDocument(w http.ResponseWriter, r *http.Request) {
	stepWithReason(a, w, r, "document.reject", a.Documents.Reject)
}

func (a *API) signDocument(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "document.sign", a.Documents.Sign)
}

func (a *API) activateDocument(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "document.activate", a.Documents.Activate)
}

func (a *API) expireDocument(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "document.expire", a.Documents.Expire)
}
