// Package scheduler renews the access token shortly before it expires.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/credential/domain"
)

const (
	// DefaultMargin is the fraction of the credential lifetime left when renewal fires.
	DefaultMargin = 0.2
	// DefaultMinLead is the least time before expiry at which renewal fires.
	DefaultMinLead = 5 * time.Second
)

// Refresher is the shared single-flight refresh path.
type Refresher interface {
	Refresh(ctx context.Context, staleAccess string) (domain.Credential, error)
}

// Scheduler keeps one pending timer per credential. A successful refresh from any path is
// expected to call Start again (the refresh coordinator's listener does this); a failed
// timer-driven refresh stops the scheduler until the next Start.
type Scheduler struct {
	refresher Refresher
	clock     clock.Clock
	margin    float64
	minLead   time.Duration

	mu     sync.Mutex
	timer  *clock.Timer
	gen    uint64
	fireAt time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects the time source (tests use clock.NewMock()).
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMargin sets the fraction of the lifetime left at renewal. Values outside (0,1) are ignored.
func WithMargin(m float64) Option {
	return func(s *Scheduler) {
		if m > 0 && m < 1 {
			s.margin = m
		}
	}
}

// WithMinLead sets the minimum time before expiry at which renewal happens.
func WithMinLead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minLead = d
		}
	}
}

// New returns a stopped Scheduler.
func New(r Refresher, opts ...Option) *Scheduler {
	s := &Scheduler{
		refresher: r,
		clock:     clock.New(),
		margin:    DefaultMargin,
		minLead:   DefaultMinLead,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FireAt returns when a credential should be renewed: expiry minus the larger of
// lifetime*margin and minLead, never earlier than halfway through the lifetime.
func FireAt(cred domain.Credential, now time.Time, margin float64, minLead time.Duration) time.Time {
	lifetime := cred.Lifetime()
	if lifetime == 0 {
		lifetime = cred.AccessExpiresAt.Sub(now)
	}
	if lifetime <= 0 {
		return now
	}
	lead := time.Duration(float64(lifetime) * margin)
	if lead < minLead {
		lead = minLead
	}
	if lead >= lifetime {
		lead = lifetime / 2
	}
	return cred.AccessExpiresAt.Add(-lead)
}

// Start (re)arms the timer for cred, replacing any pending one.
func (s *Scheduler) Start(cred domain.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(cred)
}

func (s *Scheduler) scheduleLocked(cred domain.Credential) {
	s.stopLocked()
	if cred.AccessToken == "" || cred.AccessExpiresAt.IsZero() {
		return
	}
	now := s.clock.Now()
	at := FireAt(cred, now, s.margin, s.minLead)
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	gen := s.gen
	access := cred.AccessToken
	s.fireAt = at
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen, access) })
	log.Debug().Time("fire_at", at).Dur("in", delay).Msg("scheduler: renewal armed")
}

// Stop cancels the pending timer. Safe to call any number of times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.fireAt = time.Time{}
}

// NextFire reports the pending renewal time, if any.
func (s *Scheduler) NextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fireAt, s.timer != nil
}

func (s *Scheduler) fire(gen uint64, access string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.fireAt = time.Time{}
	s.mu.Unlock()

	cred, err := s.refresher.Refresh(context.Background(), access)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		// Start or Stop ran meanwhile (a successful refresh re-arms through its listener).
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("scheduler: renewal failed, stopping")
		s.stopLocked()
		return
	}
	s.scheduleLocked(cred)
}
