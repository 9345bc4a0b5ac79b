package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cred *Credential
		want error
	}{
		{"nil", nil, ErrEmptyCredential},
		{"empty", &Credential{}, ErrEmptyCredential},
		{"access only", &Credential{AccessToken: "a"}, ErrHalfAuthenticated},
		{"refresh only", &Credential{RefreshToken: "r"}, nil},
		{"both", &Credential{AccessToken: "a", RefreshToken: "r"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cred.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNew_UsesExplicitExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(10 * time.Minute)
	c := New("opaque-access", "opaque-refresh", exp, now, time.Minute)
	if !c.AccessExpiresAt.Equal(exp) {
		t.Errorf("AccessExpiresAt = %v, want %v", c.AccessExpiresAt, exp)
	}
	if !c.IssuedAt.Equal(now) {
		t.Errorf("IssuedAt = %v, want %v", c.IssuedAt, now)
	}
	if c.Lifetime() != 10*time.Minute {
		t.Errorf("Lifetime = %v, want 10m", c.Lifetime())
	}
}

func TestNew_FallsBackToJWTClaims(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	iat := now.Add(-30 * time.Second)
	exp := iat.Add(5 * time.Minute)
	access := signed(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	}})

	c := New(access, "r", time.Time{}, now, time.Minute)
	if !c.AccessExpiresAt.Equal(exp) {
		t.Errorf("AccessExpiresAt = %v, want exp claim %v", c.AccessExpiresAt, exp)
	}
	if !c.IssuedAt.Equal(iat) {
		t.Errorf("IssuedAt = %v, want iat claim %v", c.IssuedAt, iat)
	}
}

func TestNew_FallsBackToDefaultTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New("opaque", "r", time.Time{}, now, 7*time.Minute)
	if !c.AccessExpiresAt.Equal(now.Add(7 * time.Minute)) {
		t.Errorf("AccessExpiresAt = %v, want now+7m", c.AccessExpiresAt)
	}
}

func TestPeekClaims(t *testing.T) {
	tok := signed(t, Claims{SID: "sess-1"})
	claims, ok := PeekClaims(tok)
	if !ok {
		t.Fatal("PeekClaims should parse a JWT")
	}
	if claims.Session() != "sess-1" {
		t.Errorf("Session = %q, want sess-1", claims.Session())
	}
	if _, ok := PeekClaims("not-a-jwt"); ok {
		t.Error("PeekClaims should reject opaque tokens")
	}
	if _, ok := PeekClaims("a.b.c"); ok {
		t.Error("PeekClaims should reject malformed segments")
	}
}

func TestLooksUsable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expiredRefresh := signed(t, Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour))}})
	liveRefresh := signed(t, Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}})

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"fresh access", Credential{AccessToken: "a", RefreshToken: "r", AccessExpiresAt: now.Add(time.Minute)}, true},
		{"expired access, opaque refresh", Credential{AccessToken: "a", RefreshToken: "r", AccessExpiresAt: now.Add(-time.Minute)}, true},
		{"expired access, live refresh", Credential{AccessToken: "a", RefreshToken: liveRefresh, AccessExpiresAt: now.Add(-time.Minute)}, true},
		{"expired access, expired refresh", Credential{AccessToken: "a", RefreshToken: expiredRefresh, AccessExpiresAt: now.Add(-time.Minute)}, false},
		{"half authenticated", Credential{AccessToken: "a", AccessExpiresAt: now.Add(time.Minute)}, false},
		{"refresh only", Credential{RefreshToken: "r"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.LooksUsable(now); got != tt.want {
				t.Errorf("LooksUsable = %v, want %v", got, tt.want)
			}
		})
	}
}
