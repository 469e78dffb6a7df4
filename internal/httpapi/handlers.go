package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"

	"kampus.org/internal/auth"
	"kampus.org/internal/document"
	"kampus.org/internal/gate"
	"kampus.org/internal/guest"
	"kampus.org/internal/identity"
	"kampus.org/internal/obs"
	"kampus.org/internal/stream"
	"kampus.org/internal/translation"
	"kampus.org/internal/visa"
)

const serviceName = "kampus-api"

// ReadyProbe reports whether the dependencies needed to serve traffic answer.
type ReadyProbe interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadyProbe.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error { return f(ctx) }

// Deps are the services behind the HTTP surface.
type Deps struct {
	Auth         *auth.Service
	Admin        *identity.Admin
	Resolver     *identity.Resolver
	Documents    *document.Service
	Visas        *visa.Service
	Guests       *guest.Service
	Translations *translation.Service
	Events       *stream.Bus
	Ready        ReadyProbe
}

// Options tune the transport.
type Options struct {
	Version             string
	ExposeMissingAction bool
	CORSOrigins         []string
	MaxBodyBytes        int64
	RateBurst           int
	RatePerSec          float64
	TrustedProxies      []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	Deps
	router *mux.Router

	version             string
	exposeMissingAction bool
	corsOrigins         []string
	maxBodyBytes        int64
	rateBurst           int
	ratePerSec          float64
	trustedProxies      []netip.Prefix
}

// New builds the router from the static route table.
func New(deps Deps, opts Options) *API {
	a := &API{
		Deps:                deps,
		router:              mux.NewRouter(),
		version:             opts.Version,
		exposeMissingAction: opts.ExposeMissingAction,
		corsOrigins:         opts.CORSOrigins,
		maxBodyBytes:        opts.MaxBodyBytes,
		rateBurst:           opts.RateBurst,
		ratePerSec:          opts.RatePerSec,
		trustedProxies:      opts.TrustedProxies,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}

	for _, rt := range routes {
		a.router.Handle(rt.path, a.bind(rt)).Methods(rt.method)
	}
	a.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	a.router.NotFoundHandler = http.HandlerFunc(notFound)
	a.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	return a
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// bind applies authentication, the route's gate and, for credential
// endpoints, the rate limit.
func (a *API) bind(rt route) http.Handler {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt.handle(a, w, r)
	})
	if !rt.public {
		inner := h
		h = a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFromContext(r.Context())
			if err := rt.check(p); err != nil {
				a.fail(w, r, err)
				return
			}
			inner.ServeHTTP(w, r)
		}))
	}
	if rt.limited {
		h = RateLimit(h, a.rateBurst, a.ratePerSec, a.trustedProxies)
	}
	return h
}

func (rt route) check(p auth.Principal) error {
	switch {
	case rt.action != "":
		return gate.Require(p, rt.action)
	case rt.view != nil:
		_, err := rt.view.Resolve(p)
		return err
	case !p.Authenticated():
		return auth.ErrInvalidToken
	}
	return nil
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ready.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}
