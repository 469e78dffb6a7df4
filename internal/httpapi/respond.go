package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"kampus.org/internal/audit"
	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
	"kampus.org/internal/obs"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 5

var errEmptyBody = errors.New("request body is required")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(r *http.Request, code, msg string) map[string]any {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	return payload
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody(r, code, msg))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body for endpoints whose payload is optional.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := decodeJSON(r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
}

// fail maps the error taxonomy onto HTTP. Forbidden responses always reach
// the audit log with the missing action; the body names it only when the
// API runs with exposeMissingAction.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		forbidden  *errs.ForbiddenError
		transition *errs.TransitionError
	)
	switch {
	case errors.Is(err, errs.ErrUnauthenticated):
		unauthorized(w, r, "authentication required")
	case errors.As(err, &forbidden):
		_ = audit.LogEvent(r.Context(), "access.denied", map[string]any{
			"method":         r.Method,
			"path":           r.URL.Path,
			"missing_action": forbidden.Action,
			"reason":         forbidden.Reason,
		})
		body := errorBody(r, "forbidden", "forbidden")
		if a.exposeMissingAction {
			body["missing_action"] = forbidden.Action
			if forbidden.Reason != "" {
				body["reason"] = forbidden.Reason
			}
		}
		writeJSON(w, http.StatusForbidden, body)
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrStale):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &transition):
		body := errorBody(r, "invalid_transition", err.Error())
		body["op"] = transition.Op
		body["from"] = transition.From
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, errs.ErrInvalidTransition):
		writeError(w, r, http.StatusBadRequest, "invalid_transition", err.Error())
	case errors.Is(err, errs.ErrValidation):
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, errs.ErrBadRequest):
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
	case errs.Retryable(err):
		obs.Logger().WithError(err).WithField("request_id", audit.RequestIDFromContext(r.Context())).
			Warn("storage unavailable")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	default:
		obs.Logger().WithError(err).WithField("request_id", audit.RequestIDFromContext(r.Context())).
			Error("unhandled error")
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func queryTrim(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// statusQuery reads the status filter and rejects values outside known.
func statusQuery[S ~string](r *http.Request, known []S) (S, error) {
	raw := queryTrim(r, "status")
	if raw == "" {
		return "", nil
	}
	s := S(strings.ToUpper(raw))
	if !slices.Contains(known, s) {
		return "", errs.Validation("unknown status %q", raw)
	}
	return s, nil
}

// step runs an id-only operation and writes its result.
func step[T any](a *API, w http.ResponseWriter, r *http.Request, event string,
	op func(context.Context, auth.Principal, string) (T, error)) {
	out, err := op(r.Context(), principal(r), pathID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"id": pathID(r)})
	writeJSON(w, http.StatusOK, out)
}

// stepWithReason is step for operations taking a free-text reason.
func stepWithReason[T any](a *API, w http.ResponseWriter, r *http.Request, event string,
	op func(context.Context, auth.Principal, string, string) (T, error)) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	out, err := op(r.Context(), principal(r), pathID(r), strings.TrimSpace(req.Reason))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"id": pathID(r), "reason": req.Reason})
	writeJSON(w, http.StatusOK, out)
}

// fetch runs a scoped read and writes its result without auditing.
func fetch[T any](a *API, w http.ResponseWriter, r *http.Request,
	op func(context.Context, auth.Principal, string) (T, error)) {
	out, err := op(r.Context(), principal(r), pathID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
