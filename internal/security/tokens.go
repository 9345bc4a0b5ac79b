// Package security issues and checks the tokens and password hashes of the mock auth
// gateway. The admin client itself never verifies tokens.
package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired, or of the wrong use.
var ErrInvalidToken = errors.New("invalid token")

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Claims are the JWT claims of both token kinds. Use keeps a refresh token from being
// accepted as an access token and the other way round.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	Use       string `json:"token_use"`
}

// UserID parses the subject as a numeric user id.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Issued describes a freshly signed token.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider signs and validates access and refresh JWTs with RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider signing with privateKey. issuer and audience are
// set on every token and checked on validation.
func NewTokenProvider(privateKey crypto.Signer, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// SetClock overrides the token clock. Tests only.
func (p *TokenProvider) SetClock(now func() time.Time) {
	p.now = now
}

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration {
	return p.accessTTL
}

// IssueAccess signs a short-lived access token for the session.
func (p *TokenProvider) IssueAccess(sessionID string, userID int64) (Issued, error) {
	return p.issue(sessionID, userID, useAccess, p.accessTTL)
}

// IssueRefresh signs a refresh token for the session. The caller binds its jti to the
// session so that a replayed, already-rotated token can be detected.
func (p *TokenProvider) IssueRefresh(sessionID string, userID int64) (Issued, error) {
	return p.issue(sessionID, userID, useRefresh, p.refreshTTL)
}

// ValidateAccess checks signature, expiry, issuer, audience and use of an access token.
func (p *TokenProvider) ValidateAccess(token string) (*Claims, error) {
	return p.validate(token, useAccess)
}

// ValidateRefresh checks a refresh token the same way.
func (p *TokenProvider) ValidateRefresh(token string) (*Claims, error) {
	return p.validate(token, useRefresh)
}

func (p *TokenProvider) issue(sessionID string, userID int64, use string, ttl time.Duration) (Issued, error) {
	jti, err := generateJTI()
	if err != nil {
		return Issued{}, err
	}
	now := p.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		Use:       use,
	}
	token, err := p.sign(claims)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

func (p *TokenProvider) validate(token, use string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.privateKey.Public(), nil
		}
		return nil, ErrInvalidToken
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !parsed.Valid || claims.Use != use || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
