package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kampus.org/internal/auth"
	"kampus.org/internal/config"
	"kampus.org/internal/document"
	"kampus.org/internal/errs"
	"kampus.org/internal/files"
	"kampus.org/internal/guest"
	"kampus.org/internal/identity"
	"kampus.org/internal/stream"
	"kampus.org/internal/translation"
	"kampus.org/internal/visa"
)

const (
	testSigningKey = "0123456789abcdef0123456789abcdef"
	testPassword   = "correct horse battery"
)

var bootstrap = auth.NewPrincipal("bootstrap", auth.ActionManageIdentity)

type apiClient struct {
	baseURL string
	client  *http.Client
	graph   *identity.InMemory
	admin   *identity.Admin
	t       *testing.T
}

func newTestAPI(t *testing.T, opts Options) *apiClient {
	t.Helper()
	ctx := context.Background()

	graph := identity.NewInMemory()
	if err := config.Builtin().Apply(ctx, graph); err != nil {
		t.Fatalf("apply catalog: %v", err)
	}
	refresh := auth.NewMemoryRefreshStore()
	resolver := identity.NewResolver(graph)
	authSvc, err := auth.NewService(graph, resolver, refresh, auth.WithSigningKey(testSigningKey))
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	bus := stream.New()
	admin := identity.NewAdmin(graph, refresh)

	if opts.RateBurst == 0 {
		opts.RateBurst = 100
		opts.RatePerSec = 100
	}
	api := New(Deps{
		Auth:         authSvc,
		Admin:        admin,
		Resolver:     resolver,
		Documents:    document.NewService(document.NewInMemory(), bus, time.Now),
		Visas:        visa.NewService(visa.NewInMemory(), bus, time.Now),
		Guests:       guest.NewService(guest.NewInMemory(), bus, time.Now),
		Translations: translation.NewService(translation.NewInMemory(), files.Presence{}, bus, time.Now),
		Events:       bus,
	}, opts)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		graph:   graph,
		admin:   admin,
		t:       t,
	}
}

// userWith registers a user holding exactly the given actions through a
// private role and permission, logs in and returns the access token.
func (c *apiClient) userWith(email string, actions ...string) (string, string) {
	c.t.Helper()
	ctx := context.Background()
	u, err := c.admin.CreateUser(ctx, bootstrap, email, testPassword, "international office")
	if err != nil {
		c.t.Fatalf("create user: %v", err)
	}
	role, err := c.graph.CreateRole(ctx, "role:"+email)
	if err != nil {
		c.t.Fatalf("create role: %v", err)
	}
	perm, err := c.graph.CreatePermission(ctx, "perm:"+email)
	if err != nil {
		c.t.Fatalf("create permission: %v", err)
	}
	for _, code := range actions {
		act, err := c.graph.ActionByCode(ctx, code)
		if err != nil {
			c.t.Fatalf("action %s: %v", code, err)
		}
		if err := c.graph.AttachAction(ctx, perm.ID, act.ID); err != nil {
			c.t.Fatalf("attach %s: %v", code, err)
		}
	}
	if err := c.graph.GrantPermission(ctx, role.ID, perm.ID); err != nil {
		c.t.Fatalf("grant: %v", err)
	}
	if err := c.graph.AssignRole(ctx, u.ID, role.ID); err != nil {
		c.t.Fatalf("assign: %v", err)
	}
	return c.login(email), u.ID
}

func (c *apiClient) login(email string) string {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": email, "password": testPassword}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	pair := decode[auth.TokenPair](c.t, resp)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		c.t.Fatalf("empty token pair")
	}
	return pair.AccessToken
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	if resp.StatusCode != want {
		defer resp.Body.Close()
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body.String())
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil
	}
	return decode[map[string]any](t, resp)
}

var authorActions = []string{
	document.ActionCreate, document.ActionUpdate, document.ActionSubmit, document.ActionViewOwn,
}

var managerActions = []string{
	document.ActionReview, document.ActionApprove, document.ActionReject, document.ActionSign,
	document.ActionActivate, document.ActionViewAll,
}

func TestDocumentFlow(t *testing.T) {
	api := newTestAPI(t, Options{})
	author, authorID := api.userWith("author@kampus.test", authorActions...)
	manager, _ := api.userWith("manager@kampus.test", managerActions...)

	resp := api.do(http.MethodPost, "/v1/documents", map[string]any{
		"title":   "Exchange agreement",
		"partner": "University of Tartu",
	}, author)
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/v1/documents/") {
		t.Fatalf("unexpected Location %q", loc)
	}
	doc := expectStatus(t, resp, http.StatusCreated)
	id := doc["id"].(string)
	if doc["status"] != string(document.StatusDraft) || doc["created_by"] != authorID {
		t.Fatalf("unexpected document: %v", doc)
	}

	doc = expectStatus(t, api.do(http.MethodPost, "/v1/documents/"+id+"/submit", nil, author), http.StatusOK)
	if doc["status"] != string(document.StatusSubmitted) {
		t.Fatalf("expected SUBMITTED, got %v", doc["status"])
	}

	expectStatus(t, api.do(http.MethodPost, "/v1/documents/"+id+"/approve", nil, author), http.StatusForbidden)

	doc = expectStatus(t, api.do(http.MethodPost, "/v1/documents/"+id+"/reject",
		map[string]any{"reason": "missing annex"}, manager), http.StatusOK)
	if doc["status"] != string(document.StatusDraft) || doc["reject_reason"] != "missing annex" {
		t.Fatalf("unexpected rejected document: %v", doc)
	}

	expectStatus(t, api.do(http.MethodPut, "/v1/documents/"+id, map[string]any{
		"title":   "Exchange agreement v2",
		"partner": "University of Tartu",
	}, author), http.StatusOK)
	expectStatus(t, api.do(http.MethodPost, "/v1/documents/"+id+"/submit", nil, author), http.StatusOK)
	for _, op := range []string{"approve", "sign", "activate"} {
		expectStatus(t, api.do(http.MethodPost, "/v1/documents/"+id+"/"+op, nil, manager), http.StatusOK)
	}

	doc = expectStatus(t, api.do(http.MethodGet, "/v1/documents/"+id, nil, author), http.StatusOK)
	if doc["status"] != string(document.StatusActive) || doc["title"] != "Exchange agreement v2" {
		t.Fatalf("unexpected document: %v", doc)
	}

	list := expectStatus(t, api.do(http.MethodGet, "/v1/documents?status=active", nil, manager), http.StatusOK)
	if items := list["items"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 active document, got %d", len(items))
	}
	expectStatus(t, api.do(http.MethodGet, "/v1/documents?status=bogus", nil, manager), http.StatusBadRequest)
}

func TestUnauthenticatedBeforeForbidden(t *testing.T) {
	api := newTestAPI(t, Options{})
	viewer, _ := api.userWith("viewer@kampus.test", document.ActionViewOwn)

	resp := api.do(http.MethodPost, "/v1/documents", map[string]any{"title": "x"}, "")
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	expectStatus(t, resp, http.StatusUnauthorized)

	expectStatus(t, api.do(http.MethodPost, "/v1/documents", map[string]any{"title": "x"}, "not-a-token"),
		http.StatusUnauthorized)
	expectStatus(t, api.do(http.MethodPost, "/v1/documents", map[string]any{"title": "x"}, viewer),
		http.StatusForbidden)
}

func TestForbiddenBodyNamesMissingActionOnlyWhenExposed(t *testing.T) {
	for _, expose := range []bool{false, true} {
		api := newTestAPI(t, Options{ExposeMissingAction: expose})
		token, _ := api.userWith("staff@kampus.test", visa.ActionViewOwn)

		body := expectStatus(t, api.do(http.MethodPost, "/v1/visas", map[string]any{"number": "N1"}, token),
			http.StatusForbidden)
		got, ok := body["missing_action"]
		if expose && got != visa.ActionCreate {
			t.Fatalf("expected missing_action %q, got %v", visa.ActionCreate, got)
		}
		if !expose && ok {
			t.Fatalf("missing_action leaked: %v", body)
		}
	}
}

func TestInvalidTransitionNamesOpAndState(t *testing.T) {
	api := newTestAPI(t, Options{})
	author, _ := api.userWith("author@kampus.test", authorActions...)
	manager, _ := api.userWith("manager@kampus.test", managerActions...)

	doc := expectStatus(t, api.do(http.MethodPost, "/v1/documents", map[string]any{"title": "MoU"}, author),
		http.StatusCreated)
	body := expectStatus(t, api.do(http.MethodPost, "/v1/documents/"+doc["id"].(string)+"/sign", nil, manager),
		http.StatusBadRequest)
	if body["code"] != "invalid_transition" || body["op"] != "sign" || body["from"] != string(document.StatusDraft) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestOwnScopeHidesOtherRecords(t *testing.T) {
	api := newTestAPI(t, Options{})
	alice, _ := api.userWith("alice@kampus.test", authorActions...)
	bob, _ := api.userWith("bob@kampus.test", authorActions...)

	doc := expectStatus(t, api.do(http.MethodPost, "/v1/documents", map[string]any{"title": "Alice"}, alice),
		http.StatusCreated)
	expectStatus(t, api.do(http.MethodGet, "/v1/documents/"+doc["id"].(string), nil, bob), http.StatusNotFound)

	list := expectStatus(t, api.do(http.MethodGet, "/v1/documents", nil, bob), http.StatusOK)
	if items := list["items"].([]any); len(items) != 0 {
		t.Fatalf("bob sees %d foreign documents", len(items))
	}
}

func TestVisaExtensionFlow(t *testing.T) {
	api := newTestAPI(t, Options{})
	staff, _ := api.userWith("staff@kampus.test", visa.ActionCreate, visa.ActionExtend, visa.ActionViewOwn)
	officer, _ := api.userWith("officer@kampus.test", visa.ActionApprove, visa.ActionReject, visa.ActionViewAll)

	expires := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	v := expectStatus(t, api.do(http.MethodPost, "/v1/visas", map[string]any{
		"number":      "KZ-1001",
		"holder_name": "Aru Sadykova",
		"country":     "KZ",
		"expires_at":  expires,
	}, staff), http.StatusCreated)
	visaID := v["id"].(string)

	expectStatus(t, api.do(http.MethodPost, "/v1/visas", map[string]any{
		"number":      "KZ-1001",
		"holder_name": "Duplicate",
		"expires_at":  expires,
	}, staff), http.StatusConflict)

	ext := expectStatus(t, api.do(http.MethodPost, "/v1/visas/"+visaID+"/extensions", map[string]any{
		"expires_at": expires.Add(90 * 24 * time.Hour),
		"reason":     "semester extended",
	}, staff), http.StatusCreated)
	extID := ext["id"].(string)

	expectStatus(t, api.do(http.MethodPost, "/v1/visa-extensions/"+extID+"/approve", nil, staff), http.StatusForbidden)
	ext = expectStatus(t, api.do(http.MethodPost, "/v1/visa-extensions/"+extID+"/approve", nil, officer), http.StatusOK)
	if ext["status"] != string(visa.ExtensionApproved) {
		t.Fatalf("expected approved extension, got %v", ext["status"])
	}

	v = expectStatus(t, api.do(http.MethodGet, "/v1/visas/"+visaID, nil, staff), http.StatusOK)
	got, err := time.Parse(time.RFC3339, v["expires_at"].(string))
	if err != nil {
		t.Fatalf("parse expires_at: %v", err)
	}
	if !got.Equal(expires.Add(90 * 24 * time.Hour)) {
		t.Fatalf("expiry not moved: %v", got)
	}

	exts := decode[[]map[string]any](t, api.do(http.MethodGet, "/v1/visas/"+visaID+"/extensions", nil, staff))
	if len(exts) != 1 {
		t.Fatalf("expected one extension, got %d", len(exts))
	}
}

func TestGuestAndTranslationFlows(t *testing.T) {
	api := newTestAPI(t, Options{})
	host, _ := api.userWith("host@kampus.test",
		guest.ActionCreate, guest.ActionViewOwn, translation.ActionCreate, translation.ActionViewOwn)
	office, _ := api.userWith("office@kampus.test",
		guest.ActionApprove, guest.ActionCheckin, guest.ActionCheckout, guest.ActionViewAll,
		translation.ActionApprove, translation.ActionComplete, translation.ActionViewAll)

	arrival := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	g := expectStatus(t, api.do(http.MethodPost, "/v1/guests", map[string]any{
		"organization": "Seoul National University",
		"purpose":      "delegation visit",
		"arrival_at":   arrival,
		"departure_at": arrival.Add(72 * time.Hour),
		"members":      []map[string]any{{"full_name": "Kim Min-jun"}, {"full_name": "Lee Seo-yeon"}},
	}, host), http.StatusCreated)
	guestID := g["id"].(string)
	if members := g["members"].([]any); len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	expectStatus(t, api.do(http.MethodPost, "/v1/guests/"+guestID+"/checkin", nil, office), http.StatusBadRequest)
	for _, op := range []string{"approve", "checkin", "checkout"} {
		expectStatus(t, api.do(http.MethodPost, "/v1/guests/"+guestID+"/"+op, nil, office), http.StatusOK)
	}

	tr := expectStatus(t, api.do(http.MethodPost, "/v1/translations", map[string]any{
		"title":           "Diploma supplement",
		"source_language": "kk",
		"target_language": "en",
		"source_file":     "uploads/diploma.pdf",
	}, host), http.StatusCreated)
	trID := tr["id"].(string)
	expectStatus(t, api.do(http.MethodPost, "/v1/translations/"+trID+"/approve", nil, office), http.StatusOK)
	expectStatus(t, api.do(http.MethodPost, "/v1/translations/"+trID+"/complete",
		map[string]any{"translated_file": ""}, office), http.StatusBadRequest)
	tr = expectStatus(t, api.do(http.MethodPost, "/v1/translations/"+trID+"/complete",
		map[string]any{"translated_file": "uploads/diploma.en.pdf"}, office), http.StatusOK)
	if tr["translated_file"] != "uploads/diploma.en.pdf" {
		t.Fatalf("unexpected translation: %v", tr)
	}
}

func TestLoginRefreshIsSingleUse(t *testing.T) {
	api := newTestAPI(t, Options{})
	api.userWith("staff@kampus.test", document.ActionViewOwn)

	resp := api.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"email": "staff@kampus.test", "password": testPassword,
	}, "")
	pair := decode[auth.TokenPair](t, resp)

	next := decode[auth.TokenPair](t, api.do(http.MethodPost, "/v1/auth/refresh",
		map[string]any{"refresh_token": pair.RefreshToken}, ""))
	if next.RefreshToken == "" || next.RefreshToken == pair.RefreshToken {
		t.Fatalf("expected rotated refresh token")
	}
	expectStatus(t, api.do(http.MethodPost, "/v1/auth/refresh",
		map[string]any{"refresh_token": pair.RefreshToken}, ""), http.StatusUnauthorized)

	me := expectStatus(t, api.do(http.MethodGet, "/v1/auth/me", nil, next.AccessToken), http.StatusOK)
	if actions := me["actions"].([]any); len(actions) != 1 || actions[0] != document.ActionViewOwn {
		t.Fatalf("unexpected actions: %v", me["actions"])
	}

	// the helper's own login left a second live refresh token
	out := expectStatus(t, api.do(http.MethodPost, "/v1/auth/logout", nil, next.AccessToken), http.StatusOK)
	if out["revoked"] != float64(2) {
		t.Fatalf("expected two revoked tokens, got %v", out["revoked"])
	}
	expectStatus(t, api.do(http.MethodPost, "/v1/auth/refresh",
		map[string]any{"refresh_token": next.RefreshToken}, ""), http.StatusUnauthorized)

	expectStatus(t, api.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"email": "staff@kampus.test", "password": "wrong password",
	}, ""), http.StatusUnauthorized)
}

func TestLoginIsRateLimited(t *testing.T) {
	api := newTestAPI(t, Options{RateBurst: 1, RatePerSec: 0.01})

	body := map[string]any{"email": "nobody@kampus.test", "password": testPassword}
	expectStatus(t, api.do(http.MethodPost, "/v1/auth/login", body, ""), http.StatusUnauthorized)
	resp := api.do(http.MethodPost, "/v1/auth/login", body, "")
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	expectStatus(t, resp, http.StatusTooManyRequests)
}

func TestEventsStreamDeliversTransitions(t *testing.T) {
	api := newTestAPI(t, Options{})
	author, _ := api.userWith("author@kampus.test", authorActions...)
	watcher, _ := api.userWith("watcher@kampus.test", stream.ActionSubscribe)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events?kind=document", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+watcher)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}

	doc := expectStatus(t, api.do(http.MethodPost, "/v1/documents", map[string]any{"title": "MoU"}, author),
		http.StatusCreated)
	expectStatus(t, api.do(http.MethodPost, "/v1/documents/"+doc["id"].(string)+"/submit", nil, author),
		http.StatusOK)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev["op"] != "submit" {
			continue
		}
		if ev["entity_id"] != doc["id"] || ev["to_status"] != string(document.StatusSubmitted) {
			t.Fatalf("unexpected event: %v", ev)
		}
		return
	}
}

func TestEventsRequireSubscribeAction(t *testing.T) {
	api := newTestAPI(t, Options{})
	token, _ := api.userWith("staff@kampus.test", document.ActionViewOwn)
	expectStatus(t, api.do(http.MethodGet, "/v1/events", nil, token), http.StatusForbidden)
}

func TestFailMapping(t *testing.T) {
	a := &API{}
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", auth.ErrInvalidToken, http.StatusUnauthorized, "unauthenticated"},
		{"not found", errs.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", errs.ErrConflict, http.StatusConflict, "conflict"},
		{"stale", errs.ErrStale, http.StatusConflict, "conflict"},
		{"validation", errs.Validation("title is required"), http.StatusBadRequest, "validation_error"},
		{"unavailable", errs.Unavailable(errors.New("connection refused")), http.StatusServiceUnavailable, "unavailable"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			a.fail(rr, httptest.NewRequest(http.MethodGet, "/v1/visas", nil), tc.err)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["code"] != tc.code {
				t.Fatalf("expected code %q, got %v", tc.code, body["code"])
			}
			if tc.status == http.StatusServiceUnavailable && rr.Header().Get("Retry-After") != "5" {
				t.Fatalf("expected Retry-After 5, got %q", rr.Header().Get("Retry-After"))
			}
		})
	}
}

func TestHealthAndReadiness(t *testing.T) {
	down := New(Deps{Ready: ReadyFunc(func(context.Context) error { return errors.New("db down") })}, Options{})

	rr := httptest.NewRecorder()
	down.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	down.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	down.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/nothing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	down.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/healthz", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
