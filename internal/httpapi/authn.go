package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"kampus.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer"
)

var (
	errMissingToken  = errors.New("missing bearer token")
	errInvalidScheme = errors.New("invalid authorization scheme")
)

// withAuth turns the bearer token into a Principal on the request context.
// Token verification is local; the action set travels in the token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Auth == nil {
			writeError(w, r, http.StatusServiceUnavailable, "unavailable", "authentication is not configured")
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		principal, err := a.Auth.Authenticate(r.Context(), token)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="kampus"`)
	writeError(w, r, http.StatusUnauthorized, "unauthenticated", msg)
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, bearer) {
		return "", errInvalidScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
