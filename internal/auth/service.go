package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"kampus.org/internal/errs"
	"kampus.org/internal/identity"
	"kampus.org/internal/ids"
)

const (
	defaultIssuer     = "kampus"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
	minSigningKeyLen  = 32
	clockSkew         = 5 * time.Second

	tokenTypeAccess = "access"

	// ActionManageIdentity allows revoking the sessions of other users.
	ActionManageIdentity = identity.ActionManage
)

// Resolver computes the effective action set of a user.
type Resolver interface {
	ResolveActions(ctx context.Context, userID string) (identity.ActionSet, error)
}

// UserFinder looks up login candidates.
type UserFinder interface {
	UserByEmail(ctx context.Context, email string) (identity.User, error)
}

// Claims are the access credential claims.
type Claims struct {
	Actions   []string `json:"actions"`
	TokenType string   `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair carries a freshly issued access and refresh credential.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Actions          []string  `json:"actions"`
	// StalenessSeconds bounds how long a revoked action stays in use.
	StalenessSeconds int64 `json:"staleness_window_seconds"`
}

// Service issues and verifies credentials.
//
// The action set is resolved once per login or refresh and embedded in the
// access token. Graph changes therefore reach a user only at the next
// refresh; the delay is bounded by the access TTL (see StalenessWindow).
type Service struct {
	users    UserFinder
	resolver Resolver
	refresh  RefreshStore
	now      func() time.Time

	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSigningKey sets the HS256 key for access tokens.
func WithSigningKey(key string) ServiceOption {
	return func(s *Service) error {
		key = strings.TrimSpace(key)
		if len(key) < minSigningKeyLen {
			return fmt.Errorf("auth: signing key must be at least %d bytes", minSigningKeyLen)
		}
		s.signingKey = []byte(key)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserFinder, resolver Resolver, refresh RefreshStore, opts ...ServiceOption) (*Service, error) {
	if users == nil || resolver == nil || refresh == nil {
		return nil, errors.New("auth: users, resolver and refresh store are required")
	}
	svc := &Service{
		users:      users,
		resolver:   resolver,
		refresh:    refresh,
		now:        time.Now,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.signingKey) == 0 {
		return nil, errors.New("auth: signing key is required")
	}
	if svc.refreshTTL < svc.accessTTL {
		return nil, errors.New("auth: refresh ttl must not be shorter than access ttl")
	}
	return svc, nil
}

// StalenessWindow is the longest time a revoked action can remain usable.
func (s *Service) StalenessWindow() time.Duration {
	return s.accessTTL
}

// Login authenticates credentials and issues a fresh pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return TokenPair{}, Principal{}, ErrInvalidCredentials
		}
		return TokenPair{}, Principal{}, errs.Unavailable(err)
	}
	if !user.Active {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	if err := user.VerifyPassword(password); err != nil {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	return s.issue(ctx, user.ID)
}

// Refresh consumes a refresh credential and issues a new pair with a
// re-resolved action set. A consumed credential can never be used again.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	record, err := s.refresh.Consume(ctx, tokenID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return TokenPair{}, Principal{}, ErrInvalidToken
		}
		return TokenPair{}, Principal{}, errs.Unavailable(err)
	}
	if !s.now().Before(record.ExpiresAt) {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	return s.issue(ctx, record.UserID)
}

// Logout revokes every refresh credential of the caller.
func (s *Service) Logout(ctx context.Context, p Principal) (int, error) {
	if !p.Authenticated() {
		return 0, ErrInvalidToken
	}
	n, err := s.refresh.RevokeAll(ctx, p.ID)
	if err != nil {
		return 0, errs.Unavailable(err)
	}
	return n, nil
}

// LogoutEverywhere revokes every refresh credential of userID on behalf of
// actor. Actors may always end their own sessions; ending somebody else's
// requires identity.manage.
func (s *Service) LogoutEverywhere(ctx context.Context, actor Principal, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, errs.Validation("user id is required")
	}
	if actor.ID != userID && !actor.Has(ActionManageIdentity) {
		return 0, errs.Forbidden(ActionManageIdentity)
	}
	n, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		return 0, errs.Unavailable(err)
	}
	return n, nil
}

// Authenticate verifies an access token and rebuilds the principal from its
// embedded action codes. It performs no storage access.
func (s *Service) Authenticate(_ context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess || strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrInvalidToken
	}
	return NewPrincipal(claims.Subject, claims.Actions...), nil
}

func (s *Service) issue(ctx context.Context, userID string) (TokenPair, Principal, error) {
	actions, err := s.resolver.ResolveActions(ctx, userID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	principal := Principal{ID: userID, Actions: actions}

	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(principal, now)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	refreshToken, record, err := s.generateRefreshToken(userID, now)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := s.refresh.Save(ctx, record); err != nil {
		return TokenPair{}, Principal{}, errs.Unavailable(err)
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
		Actions:          actions.Codes(),
		StalenessSeconds: int64(s.StalenessWindow() / time.Second),
	}, principal, nil
}

func (s *Service) signAccessToken(p Principal, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Actions:   p.Actions.Codes(),
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) generateRefreshToken(userID string, now time.Time) (string, RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", RefreshToken{}, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	rec := RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hashSecret(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return rec.ID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
