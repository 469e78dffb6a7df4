package httpapi

import (
	"net/http"

	"kampus.org/internal/audit"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	pair, p, err := a.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": req.Email})
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": p.ID,
		"actions": len(pair.Actions),
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	pair, p, err := a.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{"user_id": p.ID})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	n, err := a.Auth.Logout(r.Context(), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"revoked": n})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      p.ID,
		"actions": p.Actions.Codes(),
	})
}
