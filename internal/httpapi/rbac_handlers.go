package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"kampus.org/internal/audit"
	"kampus.org/internal/identity"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Unit     string `json:"unit"`
}

type createNodeRequest struct {
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
}

type linkRequest struct {
	Kind     identity.NodeKind `json:"kind"`
	ParentID string            `json:"parent_id"`
	ChildID  string            `json:"child_id"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	user, err := a.Admin.CreateUser(r.Context(), principal(r), req.Email, req.Password, req.Unit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.user.create", map[string]any{"id": user.ID, "email": user.Email})
	w.Header().Set("Location", fmt.Sprintf("/v1/admin/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	a.createNode(w, r, "identity.role.create", func(ctx context.Context, actor identity.Actor, req createNodeRequest) (any, error) {
		return a.Admin.CreateRole(ctx, actor, req.Code)
	})
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	a.createNode(w, r, "identity.permission.create", func(ctx context.Context, actor identity.Actor, req createNodeRequest) (any, error) {
		return a.Admin.CreatePermission(ctx, actor, req.Code)
	})
}

func (a *API) createAction(w http.ResponseWriter, r *http.Request) {
	a.createNode(w, r, "identity.action.create", func(ctx context.Context, actor identity.Actor, req createNodeRequest) (any, error) {
		return a.Admin.CreateAction(ctx, actor, req.Code, req.Category)
	})
}

func (a *API) createNode(w http.ResponseWriter, r *http.Request, event string,
	create func(context.Context, identity.Actor, createNodeRequest) (any, error)) {
	var req createNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	node, err := create(r.Context(), principal(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"code": strings.TrimSpace(req.Code)})
	writeJSON(w, http.StatusCreated, node)
}

func (a *API) link(w http.ResponseWriter, r *http.Request) {
	a.editLink(w, r, "identity.link", a.Admin.Link, http.StatusCreated)
}

func (a *API) unlink(w http.ResponseWriter, r *http.Request) {
	a.editLink(w, r, "identity.unlink", a.Admin.Unlink, http.StatusNoContent)
}

func (a *API) editLink(w http.ResponseWriter, r *http.Request, event string,
	edit func(ctx context.Context, actor identity.Actor, kind identity.NodeKind, parentID, childID string) error, status int) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := edit(r.Context(), principal(r), req.Kind, strings.TrimSpace(req.ParentID), strings.TrimSpace(req.ChildID)); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"kind":      string(req.Kind),
		"parent_id": req.ParentID,
		"child_id":  req.ChildID,
	})
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, req)
}

func (a *API) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Active == nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "active is required")
		return
	}
	vars := mux.Vars(r)
	kind := identity.NodeKind(vars["kind"])
	if err := a.Admin.SetActive(r.Context(), principal(r), kind, vars["id"], *req.Active); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.set_active", map[string]any{
		"kind":   string(kind),
		"id":     vars["id"],
		"active": *req.Active,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) userActions(w http.ResponseWriter, r *http.Request) {
	set, err := a.Resolver.ResolveActions(r.Context(), pathID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": pathID(r), "actions": set.Codes()})
}

func (a *API) logoutEverywhere(w http.ResponseWriter, r *http.Request) {
	n, err := a.Auth.LogoutEverywhere(r.Context(), principal(r), pathID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout_everywhere", map[string]any{"target": pathID(r), "revoked": n})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}
