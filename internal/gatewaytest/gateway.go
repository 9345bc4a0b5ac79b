// Package gatewaytest is an in-memory implementation of the remote auth gateway contract.
// It backs the client's integration tests and cmd/mockgateway for local development.
// It is not a production server: all state lives in memory.
package gatewaytest

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"jobs-admin/client/internal/security"
	sessiondomain "jobs-admin/client/internal/session/domain"
	userdomain "jobs-admin/client/internal/user/domain"
)

// ErrDuplicateUser is returned by AddUser when the username or email is taken.
var ErrDuplicateUser = errors.New("gatewaytest: username or email already registered")

const sessionTTL = 7 * 24 * time.Hour

type account struct {
	user         userdomain.User
	passwordHash string
}

type session struct {
	id           string
	userID       int64
	ipAddress    string
	device       sessiondomain.DeviceInfo
	createdAt    time.Time
	lastActivity time.Time
	expiresAt    time.Time
	revoked      bool
	refreshJTI   string
	refreshHash  string
}

func (s *session) view(now time.Time) sessiondomain.Session {
	expired := !now.Before(s.expiresAt)
	return sessiondomain.Session{
		SessionID:    s.id,
		IPAddress:    s.ipAddress,
		DeviceInfo:   s.device,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		ExpiresAt:    s.expiresAt,
		IsActive:     !s.revoked && !expired,
		IsExpired:    expired,
	}
}

func (s *session) active(now time.Time) bool {
	return !s.revoked && now.Before(s.expiresAt)
}

// Gateway holds users, sessions and issued tokens.
type Gateway struct {
	tokens *security.TokenProvider
	hasher *security.PasswordHasher
	now    func() time.Time

	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*account
	sessions map[string]*session
	// access maps live access token jtis to their session; ExpireAccessTokens empties it.
	access map[string]string
	// resets maps reset token hashes to user ids; lastReset keeps the raw token per email.
	resets    map[string]int64
	lastReset map[string]string

	refreshCalls   int
	refreshFailure int
	refreshDelay   time.Duration
}

// New returns an empty Gateway.
func New(tokens *security.TokenProvider, hasher *security.PasswordHasher) *Gateway {
	return &Gateway{
		tokens:    tokens,
		hasher:    hasher,
		now:       time.Now,
		nextID:    1,
		accounts:  make(map[int64]*account),
		sessions:  make(map[string]*session),
		access:    make(map[string]string),
		resets:    make(map[string]int64),
		lastReset: make(map[string]string),
	}
}

// Handler returns the HTTP routes of the gateway contract.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/auth/login", g.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/token/refresh", g.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", g.logout).Methods(http.MethodPost)
	r.HandleFunc("/auth/password-reset-request", g.passwordResetRequest).Methods(http.MethodPost)
	r.HandleFunc("/auth/password-reset-confirm", g.passwordResetConfirm).Methods(http.MethodPost)

	authed := r.PathPrefix("/auth").Subrouter()
	authed.Use(g.requireAccess)
	authed.HandleFunc("/profile", g.profile).Methods(http.MethodGet)
	authed.HandleFunc("/profile", g.updateProfile).Methods(http.MethodPatch)
	authed.HandleFunc("/change-password", g.changePassword).Methods(http.MethodPost)
	authed.HandleFunc("/sessions", g.listSessions).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/invalidate-all", g.invalidateAll).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/force-logout", g.forceLogout).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/invalidate", g.invalidateSession).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.", nil)
	})
	return r
}

// AddUser registers a user with a password and returns it with its assigned id.
func (g *Gateway) AddUser(u userdomain.User, password string) (userdomain.User, error) {
	hash, err := g.hasher.Hash(password)
	if err != nil {
		return userdomain.User{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.accounts {
		if strings.EqualFold(a.user.Username, u.Username) || (u.Email != "" && strings.EqualFold(a.user.Email, u.Email)) {
			return userdomain.User{}, ErrDuplicateUser
		}
	}
	u.ID = g.nextID
	g.nextID++
	if u.UserType == "" {
		u.UserType = userdomain.UserTypeJobSeeker
	}
	g.accounts[u.ID] = &account{user: u, passwordHash: hash}
	return u, nil
}

// RefreshCalls returns how many refresh requests reached the gateway.
func (g *Gateway) RefreshCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshCalls
}

// FailRefresh makes every refresh answer status until called with 0.
func (g *Gateway) FailRefresh(status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshFailure = status
}

// SetRefreshDelay holds every refresh response for d.
func (g *Gateway) SetRefreshDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshDelay = d
}

// ExpireAccessTokens makes every access token issued so far fail with 401, as if expired.
func (g *Gateway) ExpireAccessTokens() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.access)
}

// ActiveSessions returns the number of live sessions of a user.
func (g *Gateway) ActiveSessions(userID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for _, s := range g.sessions {
		if s.userID == userID && s.active(now) {
			n++
		}
	}
	return n
}

// ResetToken returns the last password reset token issued for email, as if read from the mail.
func (g *Gateway) ResetToken(email string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReset[strings.ToLower(email)]
}

// findLogin returns the account whose username or email matches login. Caller holds g.mu.
func (g *Gateway) findLogin(login string) *account {
	for _, a := range g.accounts {
		if strings.EqualFold(a.user.Username, login) || strings.EqualFold(a.user.Email, login) {
			return a
		}
	}
	return nil
}

// revokeUserSessions ends every session of userID and returns how many were live. Caller holds g.mu.
func (g *Gateway) revokeUserSessions(userID int64) int {
	now := g.now()
	n := 0
	for _, s := range g.sessions {
		if s.userID == userID && s.active(now) {
			g.revokeLocked(s)
			n++
		}
	}
	return n
}

// revokeLocked ends a session and drops its access tokens. Caller holds g.mu.
func (g *Gateway) revokeLocked(s *session) {
	s.revoked = true
	for jti, sid := range g.access {
		if sid == s.id {
			delete(g.access, jti)
		}
	}
}

// issueLocked mints an access token and a rotated refresh token for s. Caller holds g.mu.
func (g *Gateway) issueLocked(s *session) (access, refresh security.Issued, err error) {
	access, err = g.tokens.IssueAccess(s.id, s.userID)
	if err != nil {
		return
	}
	refresh, err = g.tokens.IssueRefresh(s.id, s.userID)
	if err != nil {
		return
	}
	g.access[access.JTI] = s.id
	s.refreshJTI = refresh.JTI
	s.refreshHash = security.HashToken(refresh.Token)
	s.lastActivity = g.now().UTC()
	return
}
