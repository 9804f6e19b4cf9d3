package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const issuer = "brownie-metadata"

// Claims is the signed token payload. Subject carries the user id.
type Claims struct {
	OrgID string   `json:"org_id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 bearer tokens. It is stateless and
// safe for concurrent use; the secret and TTL are injected at construction,
// never read from ambient globals.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source. Useful for expiry tests.
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the logger used for verification failure causes.
func WithLogger(log *zap.Logger) TokenOption {
	return func(s *TokenService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewTokenService constructs a TokenService with the given shared secret and
// default token lifetime. Secret strength is validated by the config layer
// at startup, before this constructor runs.
func NewTokenService(secret string, ttl time.Duration, opts ...TokenOption) *TokenService {
	s := &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for the given identity. A zero ttl uses the service
// default. Pure encoding, no side effects.
func (s *TokenService) Issue(userID, orgID, email string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		OrgID: orgID,
		Email: email,
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify validates the signature, expiry, and required claims. Every failure
// is surfaced as ErrInvalidCredentials so callers cannot distinguish a
// tampered token from an expired one; the concrete cause goes to the log.
func (s *TokenService) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		s.log.Warn("token verification failed", zap.String("cause", "empty token"))
		return Claims{}, ErrInvalidCredentials
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCredentials
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		s.log.Warn("token verification failed", zap.Error(err))
		return Claims{}, ErrInvalidCredentials
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		s.log.Warn("token verification failed", zap.String("cause", "claims type mismatch"))
		return Claims{}, ErrInvalidCredentials
	}
	// Required identity claims must be present regardless of signature
	// validity.
	if strings.TrimSpace(claims.Subject) == "" ||
		strings.TrimSpace(claims.OrgID) == "" ||
		strings.TrimSpace(claims.Email) == "" {
		s.log.Warn("token verification failed", zap.String("cause", "missing required claim"))
		return Claims{}, ErrInvalidCredentials
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return *claims, nil
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
