package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner("test-secret", 0)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestIssueThenParse(t *testing.T) {
	s := newTestSigner(t)
	token, expires, err := s.Issue("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := s.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := expires.Sub(claims.IssuedTime()); got != DefaultTTL {
		t.Fatalf("expected ttl of %s, got %s", DefaultTTL, got)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	s := newTestSigner(t)
	issuedAt := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return issuedAt }
	token, _, err := s.Issue("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	s.now = func() time.Time { return issuedAt.Add(59 * time.Minute) }
	if _, err := s.Parse(token); err != nil {
		t.Fatalf("expected token valid before expiry, got %v", err)
	}

	s.now = func() time.Time { return issuedAt.Add(time.Hour + time.Second) }
	if _, err := s.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	s := newTestSigner(t)
	token, _, err := s.Issue("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	if _, err := s.Parse(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}

	other, err := NewSigner("another-secret", 0)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign key, got %v", err)
	}
}

func TestParseRejectsMalformedToken(t *testing.T) {
	s := newTestSigner(t)
	for _, raw := range []string{"", "abc", "a.b.c"} {
		if _, err := s.Parse(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", raw, err)
		}
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner("  ", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
