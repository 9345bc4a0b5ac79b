package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrEmptyCredential is returned when neither token is present.
	ErrEmptyCredential = errors.New("credential: no tokens")
	// ErrHalfAuthenticated is returned when an access token is present without a refresh token.
	ErrHalfAuthenticated = errors.New("credential: access token without refresh token")
)

// Credential is the access/refresh token pair held by the credential store.
// Tokens are opaque to the client; IssuedAt is only used to size the renewal window.
type Credential struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	IssuedAt        time.Time `json:"issued_at,omitempty"`
}

// Claims are the access token claims the client reads without verifying the signature.
// The gateway verifies tokens; the client only uses them as hints.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id,omitempty"`
	SID       string `json:"sid,omitempty"`
}

// Session returns the session id claim under either of its common names.
func (c *Claims) Session() string {
	if c.SessionID != "" {
		return c.SessionID
	}
	return c.SID
}

// PeekClaims parses token as a JWT without verifying it. ok is false for opaque tokens.
func PeekClaims(token string) (*Claims, bool) {
	if strings.Count(token, ".") != 2 {
		return nil, false
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// New builds a Credential from a gateway response. expiresAt may be zero; it then falls back to
// the access token exp claim and finally to now+fallbackTTL. IssuedAt comes from the iat claim or now.
func New(access, refresh string, expiresAt, now time.Time, fallbackTTL time.Duration) Credential {
	c := Credential{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: expiresAt.UTC(),
		IssuedAt:        now.UTC(),
	}
	if claims, ok := PeekClaims(access); ok {
		if c.AccessExpiresAt.IsZero() && claims.ExpiresAt != nil {
			c.AccessExpiresAt = claims.ExpiresAt.Time.UTC()
		}
		if claims.IssuedAt != nil && !claims.IssuedAt.Time.After(now) {
			c.IssuedAt = claims.IssuedAt.Time.UTC()
		}
	}
	if c.AccessExpiresAt.IsZero() {
		c.AccessExpiresAt = now.Add(fallbackTTL).UTC()
	}
	return c
}

// Validate enforces the no-half-authenticated invariant.
func (c *Credential) Validate() error {
	if c == nil || (c.AccessToken == "" && c.RefreshToken == "") {
		return ErrEmptyCredential
	}
	if c.AccessToken != "" && c.RefreshToken == "" {
		return ErrHalfAuthenticated
	}
	return nil
}

// Lifetime is the span between issue and expiry of the access token. Zero when unknown or inverted.
func (c *Credential) Lifetime() time.Duration {
	if c.IssuedAt.IsZero() || !c.AccessExpiresAt.After(c.IssuedAt) {
		return 0
	}
	return c.AccessExpiresAt.Sub(c.IssuedAt)
}

// AccessExpired reports whether the access token is past its known expiry at now.
func (c *Credential) AccessExpired(now time.Time) bool {
	return !c.AccessExpiresAt.IsZero() && !now.Before(c.AccessExpiresAt)
}

// LooksUsable reports whether the credential can still authenticate requests at now, either
// directly or through a refresh. An expired access token is still usable while the refresh
// token is opaque or carries an exp claim in the future.
func (c *Credential) LooksUsable(now time.Time) bool {
	if c.Validate() != nil || c.AccessToken == "" {
		return false
	}
	if !c.AccessExpired(now) {
		return true
	}
	if claims, ok := PeekClaims(c.RefreshToken); ok && claims.ExpiresAt != nil {
		return now.Before(claims.ExpiresAt.Time)
	}
	return true
}
