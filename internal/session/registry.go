// Package session lists and ends the signed-in user's sessions, and reconciles local
// auth state when the current session is among those ended.
package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/credential/domain"
	sessiondomain "jobs-admin/client/internal/session/domain"
	"jobs-admin/client/internal/telemetry"
)

// ReasonSessionInvalidated is the forced logout reason when the current session was ended remotely.
const ReasonSessionInvalidated = "session_invalidated"

// Gateway is the subset of the account client the registry calls.
type Gateway interface {
	ListSessions(ctx context.Context) ([]sessiondomain.Session, error)
	InvalidateSession(ctx context.Context, sessionID string) (*sessiondomain.InvalidateResult, error)
	InvalidateAllSessions(ctx context.Context) (*sessiondomain.InvalidateResult, error)
	ForceLogoutCurrent(ctx context.Context) (*sessiondomain.InvalidateResult, error)
}

// Authenticator is the local auth state the registry reconciles.
type Authenticator interface {
	ForceLogout(ctx context.Context, reason string)
	IsAuthenticated(ctx context.Context) bool
}

// Registry wraps the session endpoints. It holds no session data between calls.
type Registry struct {
	gw      Gateway
	auth    Authenticator
	emitter telemetry.EventEmitter
}

// NewRegistry returns a Registry. emitter may be nil.
func NewRegistry(gw Gateway, auth Authenticator, emitter telemetry.EventEmitter) *Registry {
	return &Registry{gw: gw, auth: auth, emitter: emitter}
}

// List returns the user's sessions as reported by the gateway.
func (r *Registry) List(ctx context.Context) ([]sessiondomain.Session, error) {
	sessions, err := r.gw.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return sessions, nil
}

// Invalidate ends one session. If the gateway reports it was the caller's own, the user is
// logged out locally.
func (r *Registry) Invalidate(ctx context.Context, sessionID string) (*sessiondomain.InvalidateResult, error) {
	res, err := r.gw.InvalidateSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: invalidate %s: %w", sessionID, err)
	}
	r.settle(ctx, "one", sessionID, res, false)
	return res, nil
}

// InvalidateAll ends every session of the user.
func (r *Registry) InvalidateAll(ctx context.Context) (*sessiondomain.InvalidateResult, error) {
	res, err := r.gw.InvalidateAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: invalidate all: %w", err)
	}
	r.settle(ctx, "all", "", res, false)
	return res, nil
}

// ForceLogoutCurrent ends the caller's own session. The user is always logged out locally
// once the gateway accepts the call.
func (r *Registry) ForceLogoutCurrent(ctx context.Context) (*sessiondomain.InvalidateResult, error) {
	res, err := r.gw.ForceLogoutCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: force logout: %w", err)
	}
	r.settle(ctx, "current", "", res, true)
	return res, nil
}

// settle applies a successful invalidation locally. Without force_logout the user is left
// signed in; IsAuthenticated only reconciles a store that was cleared concurrently.
func (r *Registry) settle(ctx context.Context, scope, sessionID string, res *sessiondomain.InvalidateResult, always bool) {
	if res == nil {
		res = &sessiondomain.InvalidateResult{}
	}
	ev := telemetry.NewEvent(telemetry.EventSessionRevoked)
	ev.SessionID = sessionID
	ev.Source = "session_registry"
	ev.Metadata = map[string]string{
		"scope":        scope,
		"force_logout": strconv.FormatBool(res.ForceLogout || always),
		"count":        strconv.Itoa(res.Count),
	}
	telemetry.EmitAsync(r.emitter, ctx, ev)

	if res.ForceLogout || always {
		log.Info().Str("scope", scope).Msg("session: current session ended, logging out")
		r.auth.ForceLogout(ctx, ReasonSessionInvalidated)
		return
	}
	if !r.auth.IsAuthenticated(ctx) {
		log.Info().Str("scope", scope).Msg("session: no longer authenticated after invalidation")
	}
}

// Current returns the index of the session the access token belongs to, read from its
// session_id or sid claim. ok is false for opaque tokens or when no session matches.
func Current(sessions []sessiondomain.Session, accessToken string) (int, bool) {
	claims, ok := domain.PeekClaims(accessToken)
	if !ok || claims.Session() == "" {
		return -1, false
	}
	for i := range sessions {
		if sessions[i].SessionID == claims.Session() {
			return i, true
		}
	}
	return -1, false
}
