package httpapi

import (
	"fmt"
	"net/http"

	"kampus.org/internal/audit"
	"kampus.org/internal/guest"
)

func (a *API) createGuest(w http.ResponseWriter, r *http.Request) {
	var in guest.Input
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	g, err := a.Guests.Create(r.Context(), principal(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "guest.create", map[string]any{
		"id":      g.ID,
		"members": len(g.Members),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/guests/%s", g.ID))
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) listGuests(w http.ResponseWriter, r *http.Request) {
	status, err := statusQuery(r, guest.Statuses())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	guests, err := a.Guests.List(r.Context(), principal(r), guest.Filter{Status: status})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": guests})
}

func (a *API) getGuest(w http.ResponseWriter, r *http.Request) {
	fetch(a, w, r, a.Guests.Get)
}

func (a *API) updateGuest(w http.ResponseWriter, r *http.Request) {
	var in guest.Input
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	g, err := a.Guests.Update(r.Context(), principal(r), pathID(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "guest.update", map[string]any{"id": g.ID})
	writeJSON(w, http.StatusOK, g)
}

func (a *API) approveGuest(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "guest.approve", a.Guests.Approve)
}

func (a *API) checkinGuest(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "guest.checkin", a.Guests.Checkin)
}

func (a *API) checkoutGuest(w http.ResponseWriter, r *http.Request) {
	step(a, w, r, "guest.checkout", a.Guests.Checkout)
}

func (a *API) rejectGuest(w http.ResponseWriter, r *http.Request) {
	stepWithReason(a, w, r, "guest.reject", a.Guests.Reject)
}

func (a *API) cancelGuest(w http.ResponseWriter, r *http.Request) {
	stepWithReason(a, w, r, "guest.cancel", a.Guests.Cancel)
}
