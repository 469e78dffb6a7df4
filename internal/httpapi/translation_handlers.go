package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"kampus.org/internal/audit"
	"kampus.org/internal/translation"
)

type completeRequest struct {
	TranslatedFile string `json:"translated_file"`
}

func (a *API) createTranslation(w http.ResponseWriter, r *http.Request) {
	var in translation.Input
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	req, err := a.Translations.Create(r.Context(), principal(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "translation.create", map[string]any{"id": req.ID, "title": req.Title})
	w.Header().Set("Location", fmt.Sprintf("/v1/translations/%s", req.ID))
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) listTranslations(w http.ResponseWriter, r *http.Request) {
	status, err := statusQuery(r, translation.Statuses())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	reqs, err := a.Translations.List(r.Context(), principal(r), translation.Filter{Status: status})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reqs})
}

func (a *API) getTranslation(w http.ResponseWriter, r *http.Request) {
	fetch(a, w, r, a.Translations.Get)
}

func (a *API) approveTranslation(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "translation.approve", a.Translations.Approve)
}

func (a *API) completeTranslation(w http.ResponseWriter, r *http.Request) {
	var body completeRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, r, err)
		return
	}
	req, err := a.Translations.Complete(r.Context(), principal(r), pathID(r), strings.TrimSpace(body.TranslatedFile))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "translation.complete", map[string]any{
		"id":   req.ID,
		"file": req.TranslatedFile,
	})
	writeJSON(w, http.StatusOK, req)
}

func (a *API) rejectTranslation(w http.ResponseWriter, r *http.Request) {
	stepWithReason(a, w, r, "translation.reject", a.Translations.Reject)
}
