package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kampus.org/internal/errs"
	"kampus.org/internal/identity"
)

const testSigningKey = "test-signing-key-0123456789abcdef0123"

type fixture struct {
	graph   *identity.InMemory
	refresh *MemoryRefreshStore
	svc     *Service
	user    identity.User
	now     time.Time
	mu      sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		graph:   identity.NewInMemory(),
		refresh: NewMemoryRefreshStore(),
		now:     time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
	}
	catalog := identity.Catalog{
		Actions:     []identity.CatalogAction{{Code: "visa.approve"}, {Code: "visa.reject"}},
		Permissions: map[string][]string{"visa_management": {"visa.approve", "visa.reject"}},
		Roles:       map[string][]string{"DEPARTMENT_OFFICER": {"visa_management"}},
	}
	if err := catalog.Apply(ctx, f.graph); err != nil {
		t.Fatalf("catalog: %v", err)
	}
	user, err := identity.NewAdmin(f.graph, f.refresh).CreateUser(ctx, NewPrincipal("root", ActionManageIdentity), "officer@kampus.test", "correct-horse", "international")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	role, err := f.graph.RoleByCode(ctx, "DEPARTMENT_OFFICER")
	if err != nil {
		t.Fatalf("RoleByCode: %v", err)
	}
	if err := f.graph.AssignRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	f.user = user

	svc, err := NewService(f.graph, identity.NewResolver(f.graph), f.refresh,
		WithSigningKey(testSigningKey),
		WithIssuer("kampus-test"),
		WithAccessTTL(10*time.Minute),
		WithRefreshTTL(time.Hour),
		WithClock(f.clock),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func TestLoginEmbedsResolvedActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, principal, err := f.svc.Login(ctx, " Officer@Kampus.test ", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if principal.ID != f.user.ID || !principal.Has("visa.approve") {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if got := strings.Join(pair.Actions, ","); got != "visa.approve,visa.reject" {
		t.Fatalf("unexpected actions: %s", got)
	}
	if !pair.AccessExpiresAt.Equal(f.now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected access expiry: %v", pair.AccessExpiresAt)
	}

	authed, err := f.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if authed.ID != f.user.ID || !authed.Has("visa.reject") || authed.Has("document.approve") {
		t.Fatalf("unexpected authenticated principal: %+v", authed)
	}
	if f.svc.StalenessWindow() != 10*time.Minute {
		t.Fatalf("staleness window must equal access ttl")
	}
	if pair.StalenessSeconds != 600 {
		t.Fatalf("token response staleness = %d, want 600", pair.StalenessSeconds)
	}
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct{ email, password string }{
		{"officer@kampus.test", "wrong-password"},
		{"nobody@kampus.test", "correct-horse"},
		{"", ""},
	}
	for _, c := range cases {
		if _, _, err := f.svc.Login(ctx, c.email, c.password); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("Login(%q): expected unauthenticated, got %v", c.email, err)
		}
	}
	if err := f.graph.SetActive(ctx, identity.NodeUser, f.user.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "officer@kampus.test", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected inactive user to fail login, got %v", err)
	}
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.svc.Login(ctx, "officer@kampus.test", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, _, err := f.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}
	if _, _, err := f.svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected replay to fail, got %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("rotated token should be usable once: %v", err)
	}
}

func TestRefreshPicksUpGraphChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "officer@kampus.test", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	perm, err := f.graph.PermissionByCode(ctx, "visa_management")
	if err != nil {
		t.Fatalf("PermissionByCode: %v", err)
	}
	if err := f.graph.SetActive(ctx, identity.NodePermission, perm.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	// The outstanding access token still carries the old set until refresh.
	stale, err := f.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !stale.Has("visa.approve") {
		t.Fatalf("expected cached action set inside the staleness window")
	}

	refreshed, principal, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if principal.Has("visa.approve") || len(refreshed.Actions) != 0 {
		t.Fatalf("expected visa.approve to be dropped on refresh, got %v", refreshed.Actions)
	}
}

func TestRefreshFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "officer@kampus.test", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id := strings.SplitN(pair.RefreshToken, ".", 2)[0]
	for _, raw := range []string{"", "garbage", id + ".wrong-secret", "unknown.secret"} {
		if _, _, err := f.svc.Refresh(ctx, raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Refresh(%q): expected invalid token, got %v", raw, err)
		}
	}
	// The tampered attempt consumed the record.
	if _, _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected burnt token to fail, got %v", err)
	}

	pair, _, err = f.svc.Login(ctx, "officer@kampus.test", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.advance(2 * time.Hour)
	if _, _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired refresh token to fail, got %v", err)
	}
}

func TestLogoutRevokesAllRefreshTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var pairs []TokenPair
	for i := 0; i < 3; i++ {
		pair, _, err := f.svc.Login(ctx, "officer@kampus.test", "correct-horse")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		pairs = append(pairs, pair)
	}
	n, err := f.svc.Logout(ctx, NewPrincipal(f.user.ID))
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked tokens, got %d", n)
	}
	for _, p := range pairs {
		if _, _, err := f.svc.Refresh(ctx, p.RefreshToken); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected revoked token to fail, got %v", err)
		}
	}
}

func TestLogoutEverywhereRequiresManageIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Login(ctx, "officer@kampus.test", "correct-horse"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := f.svc.LogoutEverywhere(ctx, NewPrincipal("someone-else"), f.user.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	n, err := f.svc.LogoutEverywhere(ctx, NewPrincipal("admin", ActionManageIdentity), f.user.ID)
	if err != nil {
		t.Fatalf("LogoutEverywhere: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 revoked token, got %d", n)
	}
	if _, err := f.svc.LogoutEverywhere(ctx, NewPrincipal(f.user.ID), f.user.ID); err != nil {
		t.Fatalf("self logout-everywhere: %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "officer@kampus.test", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   f.user.ID,
			IssuedAt:  jwt.NewNumericDate(f.now),
			ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Minute)),
		},
	})
	forged, err := wrongIssuer.SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Actions:   []string{"visa.approve"},
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kampus-test",
			Subject:   f.user.ID,
			IssuedAt:  jwt.NewNumericDate(f.now),
			ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Minute)),
		},
	}).SignedString([]byte("another-signing-key-0123456789abcdef"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, token := range map[string]string{
		"empty":         "",
		"refresh":       pair.RefreshToken,
		"wrong issuer":  forged,
		"wrong key":     otherKey,
		"tampered body": pair.AccessToken[:len(pair.AccessToken)-2] + "xx",
	} {
		if _, err := f.svc.Authenticate(ctx, token); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("%s: expected unauthenticated, got %v", name, err)
		}
	}

	f.advance(11 * time.Minute)
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired access token to fail, got %v", err)
	}
}

func TestNewServiceValidatesOptions(t *testing.T) {
	graph := identity.NewInMemory()
	resolver := identity.NewResolver(graph)
	refresh := NewMemoryRefreshStore()
	if _, err := NewService(graph, resolver, refresh); err == nil {
		t.Fatalf("expected missing signing key error")
	}
	if _, err := NewService(graph, resolver, refresh, WithSigningKey("short")); err == nil {
		t.Fatalf("expected short signing key error")
	}
	if _, err := NewService(graph, resolver, refresh, WithSigningKey(testSigningKey), WithAccessTTL(time.Hour), WithRefreshTTL(time.Minute)); err == nil {
		t.Fatalf("expected ttl ordering error")
	}
}
