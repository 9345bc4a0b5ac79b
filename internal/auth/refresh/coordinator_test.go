package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobs-admin/client/internal/credential"
	"jobs-admin/client/internal/credential/domain"
	"jobs-admin/client/internal/credential/store"
	"jobs-admin/client/internal/gateway"
)

// fakeGateway counts refresh calls; each call blocks until release is closed (if set).
type fakeGateway struct {
	calls   int32
	release chan struct{}
	resp    *gateway.RefreshResponse
	err     error
	seen    chan string
}

func (g *fakeGateway) Refresh(ctx context.Context, refreshToken string) (*gateway.RefreshResponse, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.seen != nil {
		g.seen <- refreshToken
	}
	if g.release != nil {
		<-g.release
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func (g *fakeGateway) count() int { return int(atomic.LoadInt32(&g.calls)) }

func seed(t *testing.T, access string) *credential.Keeper {
	t.Helper()
	k := credential.NewKeeper(store.NewMemoryStore())
	_, err := k.Replace(context.Background(), domain.Credential{
		AccessToken:     access,
		RefreshToken:    "refresh-1",
		AccessExpiresAt: time.Now().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return k
}

func okResponse(access string) *gateway.RefreshResponse {
	exp := time.Now().Add(5 * time.Minute)
	return &gateway.RefreshResponse{AccessToken: access, AccessExpiresAt: &exp}
}

func TestRefresh_ConcurrentCallersShareOneCall(t *testing.T) {
	k := seed(t, "old")
	gw := &fakeGateway{release: make(chan struct{}), resp: okResponse("new"), seen: make(chan string, 1)}
	c := New(k, gw)

	const n = 25
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := c.Refresh(context.Background(), "old")
			results[i], errs[i] = cred.AccessToken, err
		}(i)
	}
	<-gw.seen
	// Give the remaining callers time to join the flight before it completes.
	time.Sleep(50 * time.Millisecond)
	close(gw.release)
	wg.Wait()

	if got := gw.count(); got != 1 {
		t.Errorf("gateway refresh calls = %d, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != "new" {
			t.Errorf("caller %d = %q, %v; want new, nil", i, results[i], errs[i])
		}
	}
}

func TestRefresh_AlreadyRefreshedSkipsGateway(t *testing.T) {
	k := seed(t, "current")
	gw := &fakeGateway{resp: okResponse("unused")}
	c := New(k, gw)

	cred, err := c.Refresh(context.Background(), "stale")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if cred.AccessToken != "current" {
		t.Errorf("AccessToken = %q, want current", cred.AccessToken)
	}
	if gw.count() != 0 {
		t.Errorf("gateway calls = %d, want 0", gw.count())
	}
}

func TestRefresh_SequentialExpiriesRefreshEachTime(t *testing.T) {
	k := seed(t, "a")
	gw := &fakeGateway{resp: okResponse("b")}
	c := New(k, gw)

	if _, err := c.Refresh(context.Background(), "a"); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	gw.resp = okResponse("c")
	cred, err := c.Refresh(context.Background(), "b")
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if cred.AccessToken != "c" || gw.count() != 2 {
		t.Errorf("got %q after %d calls, want c after 2", cred.AccessToken, gw.count())
	}
}

func TestRefresh_StoresRotatedRefreshToken(t *testing.T) {
	testCases := []struct {
		name        string
		rotated     string
		wantRefresh string
	}{
		{"rotated", "refresh-2", "refresh-2"},
		{"not rotated", "", "refresh-1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			k := seed(t, "old")
			resp := okResponse("new")
			resp.RefreshToken = tc.rotated
			c := New(k, &fakeGateway{resp: resp})

			if _, err := c.Refresh(context.Background(), "old"); err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			stored, _ := k.Load(context.Background())
			if stored.AccessToken != "new" || stored.RefreshToken != tc.wantRefresh {
				t.Errorf("stored = %q/%q, want new/%q", stored.AccessToken, stored.RefreshToken, tc.wantRefresh)
			}
		})
	}
}

func TestRefresh_FallbackExpiry(t *testing.T) {
	k := seed(t, "old")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(k, &fakeGateway{resp: &gateway.RefreshResponse{AccessToken: "opaque"}},
		WithNow(func() time.Time { return now }), WithFallbackTTL(90*time.Second))

	cred, err := c.Refresh(context.Background(), "old")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if want := now.Add(90 * time.Second); !cred.AccessExpiresAt.Equal(want) {
		t.Errorf("AccessExpiresAt = %v, want %v", cred.AccessExpiresAt, want)
	}
}

func TestRefresh_RejectedClearsAndNotifiesOnce(t *testing.T) {
	k := seed(t, "old")
	rejected := &gateway.Error{Kind: gateway.KindAuthInvalid, Status: 401}
	gw := &fakeGateway{release: make(chan struct{}), err: rejected, seen: make(chan string, 1)}
	c := New(k, gw)

	var lost int32
	c.OnAuthLost(func(ctx context.Context, cause error) {
		atomic.AddInt32(&lost, 1)
		if !errors.Is(cause, gateway.ErrAuthInvalid) {
			t.Errorf("cause = %v", cause)
		}
	})

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Refresh(context.Background(), "old")
		}(i)
	}
	<-gw.seen
	time.Sleep(50 * time.Millisecond)
	close(gw.release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, gateway.ErrAuthInvalid) {
			t.Errorf("caller %d err = %v, want ErrAuthInvalid", i, err)
		}
	}
	if got := atomic.LoadInt32(&lost); got != 1 {
		t.Errorf("auth lost hook calls = %d, want 1", got)
	}
	if stored, _ := k.Load(context.Background()); stored != nil {
		t.Errorf("stored = %+v, want cleared", stored)
	}
}

func TestRefresh_TransientFailureKeepsCredential(t *testing.T) {
	for _, kind := range []gateway.Kind{gateway.KindNetwork, gateway.KindServer} {
		t.Run(string(kind), func(t *testing.T) {
			k := seed(t, "old")
			c := New(k, &fakeGateway{err: &gateway.Error{Kind: kind}})
			var lost bool
			c.OnAuthLost(func(context.Context, error) { lost = true })

			if _, err := c.Refresh(context.Background(), "old"); gateway.KindOf(err) != kind {
				t.Fatalf("err = %v, want kind %s", err, kind)
			}
			if lost {
				t.Error("transient failures must not end the session")
			}
			if stored, _ := k.Load(context.Background()); stored == nil || stored.AccessToken != "old" {
				t.Errorf("stored = %+v, want the original credential", stored)
			}
		})
	}
}

func TestRefresh_LogoutDuringRefreshDiscardsResult(t *testing.T) {
	k := seed(t, "old")
	gw := &fakeGateway{release: make(chan struct{}), resp: okResponse("new"), seen: make(chan string, 1)}
	c := New(k, gw)
	var refreshed int32
	c.OnRefreshed(func(domain.Credential) { atomic.AddInt32(&refreshed, 1) })

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background(), "old")
		done <- err
	}()
	<-gw.seen
	if err := k.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	close(gw.release)

	if err := <-done; !errors.Is(err, credential.ErrSuperseded) {
		t.Errorf("err = %v, want ErrSuperseded", err)
	}
	if stored, _ := k.Load(context.Background()); stored != nil {
		t.Errorf("stored = %+v, refresh resurrected a logged out credential", stored)
	}
	if atomic.LoadInt32(&refreshed) != 0 {
		t.Error("listeners must not hear about a discarded refresh")
	}
}

func TestRefresh_RejectedAfterNewLoginKeepsNewLogin(t *testing.T) {
	k := seed(t, "old")
	gw := &fakeGateway{release: make(chan struct{}), err: &gateway.Error{Kind: gateway.KindAuthInvalid}, seen: make(chan string, 1)}
	c := New(k, gw)
	var lost bool
	c.OnAuthLost(func(context.Context, error) { lost = true })

	done := make(chan struct{})
	go func() {
		_, _ = c.Refresh(context.Background(), "old")
		close(done)
	}()
	<-gw.seen
	_, _ = k.Replace(context.Background(), domain.Credential{AccessToken: "fresh-login", RefreshToken: "r"})
	close(gw.release)
	<-done

	if lost {
		t.Error("a rejection of the previous session must not log out the new one")
	}
	if stored, _ := k.Load(context.Background()); stored == nil || stored.AccessToken != "fresh-login" {
		t.Errorf("stored = %+v, want fresh-login", stored)
	}
}

func TestRefresh_CancelledCallerDoesNotCancelRefresh(t *testing.T) {
	k := seed(t, "old")
	gw := &fakeGateway{release: make(chan struct{}), resp: okResponse("new"), seen: make(chan string, 1)}
	c := New(k, gw)
	refreshed := make(chan domain.Credential, 1)
	c.OnRefreshed(func(cred domain.Credential) { refreshed <- cred })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "old")
		done <- err
	}()
	<-gw.seen
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	close(gw.release)

	select {
	case cred := <-refreshed:
		if cred.AccessToken != "new" {
			t.Errorf("refreshed = %q", cred.AccessToken)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shared refresh did not complete after its starter gave up")
	}
}

func TestRefresh_NoCredential(t *testing.T) {
	c := New(credential.NewKeeper(store.NewMemoryStore()), &fakeGateway{})
	if _, err := c.Refresh(context.Background(), "x"); !errors.Is(err, ErrNoCredential) {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
}
