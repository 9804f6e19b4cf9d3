package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssueAndVerify(t *testing.T) {
	svc := NewTokenService("0123456789abcdef0123456789abcdef", time.Hour)

	token, expiresAt, err := svc.Issue("user-1", "org-1", "a@example.com", []string{"Admin", "admin", "Viewer"}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.OrgID != "org-1" || claims.Email != "a@example.com" {
		t.Fatalf("identity claims not preserved: %+v", claims)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated lowercase roles, got %v", claims.Roles)
	}
	if claims.Issuer != "brownie-metadata" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestTokenVerifyRejectsTampering(t *testing.T) {
	svc := NewTokenService("0123456789abcdef0123456789abcdef", time.Hour)
	token, _, err := svc.Issue("user-1", "org-1", "a@example.com", nil, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %s", token)
	}
	tampered := parts[0] + "." + parts[1] + "." + "AAAA" + parts[2][4:]
	if _, err := svc.Verify(tampered); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for tampered token, got %v", err)
	}

	other := NewTokenService("another-secret-another-secret-32", time.Hour)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong secret, got %v", err)
	}
}

func TestTokenVerifyExpiry(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := clock
	svc := NewTokenService("0123456789abcdef0123456789abcdef", time.Hour,
		WithClock(func() time.Time { return now }))

	token, _, err := svc.Issue("user-1", "org-1", "a@example.com", nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("token should be valid inside its window: %v", err)
	}

	now = clock.Add(31 * time.Minute)
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after expiry, got %v", err)
	}
}

func TestTokenVerifyMissingClaims(t *testing.T) {
	svc := NewTokenService("0123456789abcdef0123456789abcdef", time.Hour)

	// Signed correctly, but without the required identity claims.
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "brownie-metadata",
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := raw.SignedString([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := svc.Verify(signed); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for missing claims, got %v", err)
	}

	if _, err := svc.Verify(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty token, got %v", err)
	}
}

func TestTokenVerifyRejectsUnsignedAlgorithm(t *testing.T) {
	svc := NewTokenService("0123456789abcdef0123456789abcdef", time.Hour)

	raw := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		OrgID: "org-1",
		Email: "a@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	unsigned, err := raw.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := svc.Verify(unsigned); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for alg=none, got %v", err)
	}
}
