// Package state holds who is signed in. AuthState is the one place that logs users in and
// out; every change is published to subscribers as a Snapshot, in order.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/auth/refresh"
	"jobs-admin/client/internal/credential"
	"jobs-admin/client/internal/credential/domain"
	"jobs-admin/client/internal/gateway"
	"jobs-admin/client/internal/telemetry"
	userdomain "jobs-admin/client/internal/user/domain"
)

// Snapshot events: what produced the snapshot.
const (
	EventLoading        = "loading"
	EventFailed         = "failed"
	EventLogin          = "login"
	EventLogout         = "logout"
	EventForcedLogout   = "forced_logout"
	EventRestored       = "restored"
	EventProfileLoaded  = "profile_loaded"
	EventProfileUpdated = "profile_updated"
	EventPasswordChange = "password_changed"
	EventResetRequested = "password_reset_requested"
	EventResetConfirmed = "password_reset_confirmed"
)

// Forced logout reasons.
const (
	ReasonRefreshFailed     = "refresh_failed"
	ReasonCredentialMissing = "credential_missing"
	ReasonCredentialExpired = "credential_expired"
)

// Snapshot is an immutable view of the auth state. Reason is set for forced logouts so the
// consumer can send the user back to the login entry point.
type Snapshot struct {
	User    *userdomain.User
	Loading bool
	Error   string
	Event   string
	Reason  string
}

// Authenticated reports whether the snapshot carries a user.
func (s Snapshot) Authenticated() bool {
	return s.User != nil
}

// AuthGateway is the unauthenticated part of the gateway.
type AuthGateway interface {
	Login(ctx context.Context, req gateway.LoginRequest) (*gateway.LoginResponse, error)
	Logout(ctx context.Context, cred domain.Credential) error
	RequestPasswordReset(ctx context.Context, req gateway.PasswordResetRequest) (string, error)
	ConfirmPasswordReset(ctx context.Context, req gateway.PasswordResetConfirm) (string, error)
}

// AccountGateway is the authenticated part of the gateway, sent through the request pipeline.
type AccountGateway interface {
	Profile(ctx context.Context) (*userdomain.User, error)
	UpdateProfile(ctx context.Context, req gateway.ProfileUpdate) (*userdomain.User, error)
	ChangePassword(ctx context.Context, req gateway.ChangePasswordRequest) (string, error)
}

// Scheduler renews the credential before it expires.
type Scheduler interface {
	Start(cred domain.Credential)
	Stop()
}

// Policy answers fine-grained permission questions.
type Policy interface {
	Allow(ctx context.Context, user *userdomain.User, action, resource string) (bool, error)
}

// RefreshEvents is the refresh coordinator's notification surface.
type RefreshEvents interface {
	OnRefreshed(fn func(domain.Credential))
	OnAuthLost(fn refresh.AuthLostFunc)
}

// Option configures an AuthState.
type Option func(*AuthState)

// WithPolicy sets the policy used by Can. Without one, Can allows admins only.
func WithPolicy(p Policy) Option {
	return func(s *AuthState) { s.policy = p }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e telemetry.EventEmitter) Option {
	return func(s *AuthState) { s.emitter = e }
}

// WithFallbackTTL sets the access lifetime assumed when login returns no expiry.
func WithFallbackTTL(d time.Duration) Option {
	return func(s *AuthState) {
		if d > 0 {
			s.fallbackTTL = d
		}
	}
}

// WithNow overrides the clock used to judge credential expiry.
func WithNow(now func() time.Time) Option {
	return func(s *AuthState) { s.now = now }
}

// AuthState is the single source of truth for the signed-in user.
type AuthState struct {
	keeper      *credential.Keeper
	auth        AuthGateway
	account     AccountGateway
	sched       Scheduler
	policy      Policy
	emitter     telemetry.EventEmitter
	fallbackTTL time.Duration
	now         func() time.Time

	// transition serialises login/logout commits so a forced logout and a new login
	// cannot interleave their store, scheduler and user updates.
	transition sync.Mutex

	mu        sync.Mutex
	snap      Snapshot
	pending   int
	queue     []Snapshot
	listeners map[uint64]func(Snapshot)
	nextID    uint64

	delivering sync.Mutex
}

// New returns an AuthState in the signed-out state. Call Restore to pick up a persisted credential.
func New(keeper *credential.Keeper, auth AuthGateway, account AccountGateway, sched Scheduler, opts ...Option) *AuthState {
	s := &AuthState{
		keeper:      keeper,
		auth:        auth,
		account:     account,
		sched:       sched,
		emitter:     telemetry.Noop{},
		fallbackTTL: 5 * time.Minute,
		now:         time.Now,
		listeners:   make(map[uint64]func(Snapshot)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Watch wires the refresh coordinator: every refresh re-arms the scheduler, and a rejected
// refresh token logs the user out.
func (s *AuthState) Watch(events RefreshEvents) {
	events.OnRefreshed(func(cred domain.Credential) {
		s.sched.Start(cred)
		ev := telemetry.NewEvent(telemetry.EventRefreshed)
		ev.UserID = s.userID()
		telemetry.EmitAsync(s.emitter, context.Background(), ev)
	})
	events.OnAuthLost(s.authLost)
}

// Subscribe registers fn for every future snapshot and returns a func that removes it.
// fn is called in state order, never concurrently with itself, and must not block.
func (s *AuthState) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns the current state.
func (s *AuthState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// User returns a copy of the signed-in user, or nil.
func (s *AuthState) User() *userdomain.User {
	return s.Snapshot().User
}

// Login exchanges credentials for a session. On failure the error is recorded and the
// stored credential is left as it was.
func (s *AuthState) Login(ctx context.Context, req gateway.LoginRequest) (_ *userdomain.User, err error) {
	s.begin()
	defer func() { s.end(err) }()

	resp, err := s.auth.Login(ctx, req)
	if err != nil {
		ev := telemetry.NewEvent(telemetry.EventLoginFailed)
		ev.Reason = string(gateway.KindOf(err))
		telemetry.EmitAsync(s.emitter, ctx, ev)
		return nil, err
	}

	var expiresAt time.Time
	if resp.AccessExpiresAt != nil {
		expiresAt = *resp.AccessExpiresAt
	}
	cred := domain.New(resp.AccessToken, resp.RefreshToken, expiresAt, s.now(), s.fallbackTTL)
	user := resp.User

	s.transition.Lock()
	if _, err := s.keeper.Replace(ctx, cred); err != nil {
		s.transition.Unlock()
		return nil, fmt.Errorf("auth: save credential: %w", err)
	}
	s.sched.Start(cred)
	s.set(func(snap *Snapshot) {
		snap.User = &user
		snap.Event = EventLogin
		snap.Reason = ""
	})
	s.transition.Unlock()
	s.flush()

	log.Info().Int64("user_id", user.ID).Str("user_type", string(user.UserType)).Msg("auth: logged in")
	s.emit(ctx, telemetry.EventLogin, "", &user)
	return user.Clone(), nil
}

// Logout signs the user out. The local credential and user are always cleared; the remote
// logout is best effort and its failure is only logged. The returned error reports a
// failure to erase the persisted credential.
func (s *AuthState) Logout(ctx context.Context) (err error) {
	s.begin()
	defer func() { s.end(err) }()

	user := s.User()
	s.transition.Lock()
	cred, loadErr := s.keeper.Load(ctx)
	if loadErr != nil {
		log.Warn().Err(loadErr).Msg("auth: load credential for logout")
	}
	s.sched.Stop()
	clearErr := s.keeper.Clear(ctx)
	s.set(func(snap *Snapshot) {
		snap.User = nil
		snap.Event = EventLogout
		snap.Reason = ""
	})
	s.transition.Unlock()
	s.flush()

	if cred != nil {
		if err := s.auth.Logout(ctx, *cred); err != nil {
			log.Warn().Err(err).Msg("auth: remote logout failed, signed out locally")
		}
	}
	s.emit(ctx, telemetry.EventLogout, "", user)
	if clearErr != nil {
		return fmt.Errorf("auth: clear credential: %w", clearErr)
	}
	return nil
}

// ForceLogout signs the user out without a remote call, e.g. after the gateway ended the
// current session. It is a no-op when already signed out.
func (s *AuthState) ForceLogout(ctx context.Context, reason string) {
	s.transition.Lock()
	user := s.User()
	// A failed load may hide a stored credential, so only a clean empty read short-cuts.
	cred, err := s.keeper.Load(ctx)
	if user == nil && cred == nil && err == nil {
		s.transition.Unlock()
		return
	}
	s.sched.Stop()
	if err := s.keeper.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("auth: clear credential on forced logout")
	}
	s.set(func(snap *Snapshot) {
		snap.User = nil
		snap.Event = EventForcedLogout
		snap.Reason = reason
	})
	s.transition.Unlock()
	s.flush()

	log.Warn().Str("reason", reason).Msg("auth: forced logout")
	s.emit(ctx, telemetry.EventForcedLogout, reason, user)
}

// authLost handles a rejected refresh token. The coordinator has already cleared the
// credential unless a newer login replaced it, in which case nothing happens here.
func (s *AuthState) authLost(ctx context.Context, cause error) {
	s.transition.Lock()
	if cred, err := s.keeper.Load(ctx); err == nil && cred != nil {
		s.transition.Unlock()
		log.Debug().Msg("auth: refresh rejected for a superseded session, ignoring")
		return
	}
	user := s.User()
	s.sched.Stop()
	s.set(func(snap *Snapshot) {
		snap.User = nil
		snap.Event = EventForcedLogout
		snap.Reason = ReasonRefreshFailed
	})
	s.transition.Unlock()
	s.flush()

	ev := telemetry.NewEvent(telemetry.EventRefreshFailed)
	if user != nil {
		ev.UserID = fmt.Sprint(user.ID)
	}
	ev.Reason = cause.Error()
	telemetry.EmitAsync(s.emitter, ctx, ev)
	s.emit(ctx, telemetry.EventForcedLogout, ReasonRefreshFailed, user)
}

// IsAuthenticated is true only when a user is set and the store holds a credential that can
// still authenticate. A user left over after the credential vanished or expired is signed out.
func (s *AuthState) IsAuthenticated(ctx context.Context) bool {
	if s.User() == nil {
		return false
	}
	cred, err := s.keeper.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("auth: load credential")
		return false
	}
	switch {
	case cred == nil:
		s.ForceLogout(ctx, ReasonCredentialMissing)
		return false
	case !cred.LooksUsable(s.now()):
		s.ForceLogout(ctx, ReasonCredentialExpired)
		return false
	}
	return true
}

// IsAdmin reports whether the signed-in user is an admin or staff member.
func (s *AuthState) IsAdmin() bool {
	return s.User().IsAdmin()
}

// Can reports whether the signed-in user may perform action on resource.
func (s *AuthState) Can(ctx context.Context, action, resource string) (bool, error) {
	if !s.IsAuthenticated(ctx) {
		return false, nil
	}
	user := s.User()
	if s.policy == nil {
		return user.IsAdmin(), nil
	}
	return s.policy.Allow(ctx, user, action, resource)
}

// Restore resumes a persisted session at startup: it loads the stored credential, fetches
// the profile through the pipeline and arms the scheduler. A missing or unusable credential
// leaves the state signed out. A failed profile request leaves the user unset; the store is
// cleared only when the refresh behind it was rejected.
func (s *AuthState) Restore(ctx context.Context) (_ *userdomain.User, err error) {
	cred, err := s.keeper.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: load credential: %w", err)
	}
	if cred == nil {
		return nil, nil
	}
	if !cred.LooksUsable(s.now()) {
		log.Info().Msg("auth: stored credential unusable, discarding")
		if err := s.keeper.Clear(ctx); err != nil {
			return nil, fmt.Errorf("auth: clear credential: %w", err)
		}
		return nil, nil
	}

	s.begin()
	defer func() { s.end(err) }()

	// The credential's fate on failure belongs to the refresh path: a rejected refresh has
	// already cleared the store (and the auth-lost hook announced it), while a refresh that
	// could not complete keeps the credential for a later Restore.
	user, err := s.account.Profile(ctx)
	if err != nil {
		return nil, err
	}

	s.transition.Lock()
	current, err := s.keeper.Load(ctx)
	if err != nil || current == nil {
		s.transition.Unlock()
		if err == nil {
			err = errors.New("auth: credential cleared while restoring")
		}
		return nil, err
	}
	s.sched.Start(*current)
	s.set(func(snap *Snapshot) {
		snap.User = user.Clone()
		snap.Event = EventRestored
		snap.Reason = ""
	})
	s.transition.Unlock()
	s.flush()

	log.Info().Int64("user_id", user.ID).Msg("auth: session restored")
	return user.Clone(), nil
}

// RefreshProfile re-reads the signed-in user from the gateway.
func (s *AuthState) RefreshProfile(ctx context.Context) (_ *userdomain.User, err error) {
	s.begin()
	defer func() { s.end(err) }()

	user, err := s.account.Profile(ctx)
	if err != nil {
		return nil, err
	}
	s.replaceUser(user, EventProfileLoaded)
	return user.Clone(), nil
}

// UpdateProfile patches the profile and replaces the user with the gateway's answer.
func (s *AuthState) UpdateProfile(ctx context.Context, req gateway.ProfileUpdate) (_ *userdomain.User, err error) {
	s.begin()
	defer func() { s.end(err) }()

	user, err := s.account.UpdateProfile(ctx, req)
	if err != nil {
		return nil, err
	}
	s.replaceUser(user, EventProfileUpdated)
	s.emit(ctx, telemetry.EventProfileUpdated, "", user)
	return user.Clone(), nil
}

// ChangePassword changes the signed-in user's password and returns the gateway message.
func (s *AuthState) ChangePassword(ctx context.Context, req gateway.ChangePasswordRequest) (_ string, err error) {
	s.begin()
	defer func() { s.end(err) }()

	msg, err := s.account.ChangePassword(ctx, req)
	if err != nil {
		return "", err
	}
	s.update(func(snap *Snapshot) { snap.Event = EventPasswordChange })
	s.emit(ctx, telemetry.EventPasswordChange, "", s.User())
	return msg, nil
}

// RequestPasswordReset asks the gateway to email a reset link.
func (s *AuthState) RequestPasswordReset(ctx context.Context, req gateway.PasswordResetRequest) (_ string, err error) {
	s.begin()
	defer func() { s.end(err) }()

	msg, err := s.auth.RequestPasswordReset(ctx, req)
	if err != nil {
		return "", err
	}
	s.update(func(snap *Snapshot) { snap.Event = EventResetRequested })
	return msg, nil
}

// ConfirmPasswordReset sets a new password from an emailed reset token.
func (s *AuthState) ConfirmPasswordReset(ctx context.Context, req gateway.PasswordResetConfirm) (_ string, err error) {
	s.begin()
	defer func() { s.end(err) }()

	msg, err := s.auth.ConfirmPasswordReset(ctx, req)
	if err != nil {
		return "", err
	}
	s.update(func(snap *Snapshot) { snap.Event = EventResetConfirmed })
	return msg, nil
}

// replaceUser swaps the user in place, unless a logout happened while the request ran.
func (s *AuthState) replaceUser(user *userdomain.User, event string) {
	s.update(func(snap *Snapshot) {
		if snap.User == nil {
			return
		}
		snap.User = user.Clone()
		snap.Event = event
	})
}

func (s *AuthState) begin() {
	s.update(func(snap *Snapshot) {
		s.pending++
		snap.Loading = true
		snap.Error = ""
		snap.Event = EventLoading
	})
}

func (s *AuthState) end(err error) {
	s.update(func(snap *Snapshot) {
		s.pending--
		snap.Loading = s.pending > 0
		if err != nil {
			snap.Error = errorMessage(err)
			snap.Event = EventFailed
		}
	})
}

func (s *AuthState) update(mutate func(*Snapshot)) {
	s.set(mutate)
	s.flush()
}

// set applies mutate and queues the resulting snapshot for delivery.
func (s *AuthState) set(mutate func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.snap)
	s.queue = append(s.queue, s.copyLocked())
}

// flush delivers queued snapshots. Only one goroutine delivers at a time; the others leave
// their snapshots to it, which keeps delivery in state order and lets listeners call back
// into AuthState.
func (s *AuthState) flush() {
	for {
		if !s.delivering.TryLock() {
			return
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			snap := s.queue[0]
			s.queue = s.queue[1:]
			listeners := make([]func(Snapshot), 0, len(s.listeners))
			for _, fn := range s.listeners {
				listeners = append(listeners, fn)
			}
			s.mu.Unlock()
			for _, fn := range listeners {
				fn(snap)
			}
		}
		s.delivering.Unlock()

		s.mu.Lock()
		empty := len(s.queue) == 0
		s.mu.Unlock()
		if empty {
			return
		}
	}
}

func (s *AuthState) copyLocked() Snapshot {
	c := s.snap
	c.User = s.snap.User.Clone()
	return c
}

func (s *AuthState) userID() string {
	if u := s.User(); u != nil {
		return fmt.Sprint(u.ID)
	}
	return ""
}

func (s *AuthState) emit(ctx context.Context, eventType, reason string, user *userdomain.User) {
	ev := telemetry.NewEvent(eventType)
	ev.Reason = reason
	ev.Source = "auth_state"
	if user != nil {
		ev.UserID = fmt.Sprint(user.ID)
		ev.Metadata = map[string]string{"user_type": string(user.UserType)}
	}
	telemetry.EmitAsync(s.emitter, ctx, ev)
}

func errorMessage(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return err.Error()
}

var _ RefreshEvents = (*refresh.Coordinator)(nil)
