// Package refresh deduplicates access token refreshes. The request pipeline (on a 401) and
// the renewal scheduler (on its timer) both go through one Coordinator, so at most one
// refresh call is in flight at any time.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"jobs-admin/client/internal/credential"
	"jobs-admin/client/internal/credential/domain"
	"jobs-admin/client/internal/gateway"
)

const (
	flightKey      = "refresh"
	defaultTimeout = 15 * time.Second
	defaultTTL     = 5 * time.Minute
)

// ErrNoCredential is returned when there is nothing to refresh.
var ErrNoCredential = errors.New("refresh: no stored credential")

// Gateway is the refresh endpoint of the remote auth service.
type Gateway interface {
	Refresh(ctx context.Context, refreshToken string) (*gateway.RefreshResponse, error)
}

// AuthLostFunc is called once when the refresh token is rejected and the credential has been cleared.
type AuthLostFunc func(ctx context.Context, cause error)

// Coordinator runs refreshes single-flight and publishes their outcome.
type Coordinator struct {
	keeper      *credential.Keeper
	gw          Gateway
	timeout     time.Duration
	fallbackTTL time.Duration
	nowF        func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	listeners  []func(domain.Credential)
	onAuthLost AuthLostFunc

	attempts metric.Int64Counter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds a single refresh call regardless of the callers' contexts.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithFallbackTTL sets the lifetime assumed when the gateway reports no expiry.
func WithFallbackTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.fallbackTTL = d
		}
	}
}

// WithNow overrides the clock used to stamp refreshed credentials.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.nowF = now }
}

// New returns a Coordinator writing through keeper.
func New(keeper *credential.Keeper, gw Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{
		keeper:      keeper,
		gw:          gw,
		timeout:     defaultTimeout,
		fallbackTTL: defaultTTL,
		nowF:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.attempts, _ = otel.Meter("jobs-admin/client/auth/refresh").Int64Counter(
		"auth.refresh.attempts",
		metric.WithDescription("Refresh calls made to the gateway, by outcome."),
	)
	return c
}

// OnRefreshed registers fn to run after every successful refresh, from either caller path.
// fn runs on the refreshing goroutine and must not block.
func (c *Coordinator) OnRefreshed(fn func(domain.Credential)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// OnAuthLost sets the hook run when the refresh token is rejected.
func (c *Coordinator) OnAuthLost(fn AuthLostFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthLost = fn
}

// Refresh returns a credential newer than staleAccess. If the stored access token already
// differs from staleAccess, another caller refreshed in the meantime and the stored
// credential is returned without a gateway call. Otherwise the caller joins the in-flight
// refresh or starts one. Pass "" to force a refresh of whatever is stored.
//
// ctx only bounds how long this caller waits; the shared refresh runs detached from it.
func (c *Coordinator) Refresh(ctx context.Context, staleAccess string) (domain.Credential, error) {
	cred, err := c.keeper.Load(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("refresh: load credential: %w", err)
	}
	if cred == nil {
		return domain.Credential{}, ErrNoCredential
	}
	if staleAccess != "" && cred.AccessToken != staleAccess {
		return *cred, nil
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), staleAccess)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Credential{}, res.Err
		}
		return res.Val.(domain.Credential), nil
	case <-ctx.Done():
		return domain.Credential{}, ctx.Err()
	}
}

func (c *Coordinator) refresh(parent context.Context, staleAccess string) (domain.Credential, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	cred, epoch, err := c.keeper.Current(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("refresh: load credential: %w", err)
	}
	if cred == nil {
		return domain.Credential{}, ErrNoCredential
	}
	// A flight that finished between the caller's check and this one already did the work.
	if staleAccess != "" && cred.AccessToken != staleAccess {
		return *cred, nil
	}

	resp, err := c.gw.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		c.record(ctx, "failed")
		if errors.Is(err, gateway.ErrAuthInvalid) {
			c.authLost(ctx, epoch, err)
		} else {
			log.Warn().Err(err).Msg("refresh: transient failure, keeping credential")
		}
		return domain.Credential{}, err
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	var expiresAt time.Time
	if resp.AccessExpiresAt != nil {
		expiresAt = *resp.AccessExpiresAt
	}
	next := domain.New(resp.AccessToken, refreshToken, expiresAt, c.nowF(), c.fallbackTTL)

	if err := c.keeper.SaveIfEpoch(ctx, epoch, next); err != nil {
		c.record(ctx, "superseded")
		if !errors.Is(err, credential.ErrSuperseded) {
			err = fmt.Errorf("refresh: save credential: %w", err)
		}
		return domain.Credential{}, err
	}
	c.record(ctx, "ok")
	log.Debug().Time("access_expires_at", next.AccessExpiresAt).Bool("rotated", resp.RefreshToken != "").Msg("refresh: credential renewed")

	c.mu.Lock()
	listeners := append([]func(domain.Credential){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// authLost clears the credential (unless a newer login replaced it) and runs the hook.
func (c *Coordinator) authLost(ctx context.Context, epoch uint64, cause error) {
	cleared, err := c.keeper.ClearIfEpoch(ctx, epoch)
	if err != nil {
		log.Error().Err(err).Msg("refresh: clear credential after rejected refresh")
	}
	if !cleared {
		return
	}
	log.Warn().Err(cause).Msg("refresh: refresh token rejected, session ended")

	c.mu.Lock()
	hook := c.onAuthLost
	c.mu.Unlock()
	if hook != nil {
		hook(ctx, cause)
	}
}

func (c *Coordinator) record(ctx context.Context, outcome string) {
	if c.attempts != nil {
		c.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
