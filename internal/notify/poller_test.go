package notify_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/notify"
	"github.com/acadex/acadex-client/internal/session"
	"github.com/acadex/acadex-client/internal/storage"
)

const eventuallyTick = 5 * time.Millisecond

type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	counts models.NotificationCounts
	err    error
}

func (f *fakeFetcher) NotificationCounts(ctx context.Context) (*models.NotificationCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	counts := f.counts
	return &counts, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) set(counts models.NotificationCounts, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = counts
	f.err = err
}

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) NewTicker(d time.Duration) notify.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// tick advances the most recent ticker by one interval, waiting for the
// polling loop to create it if needed
func (c *fakeClock) tick() {
	for {
		c.mu.Lock()
		if len(c.tickers) > 0 {
			t := c.tickers[len(c.tickers)-1]
			c.mu.Unlock()
			t.ch <- time.Now()
			return
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

// tryTick delivers a tick only if a consumer is still listening
func (c *fakeClock) tryTick() {
	c.mu.Lock()
	t := c.tickers[len(c.tickers)-1]
	c.mu.Unlock()
	select {
	case t.ch <- time.Now():
	default:
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func adminPrincipal() *models.Principal {
	return &models.Principal{ID: "a-1", Name: "Admin", Email: "admin@school.test", Role: models.RoleSchoolAdmin}
}

func newPoller(t *testing.T) (*notify.Poller, *fakeFetcher, *fakeClock, *session.Store) {
	t.Helper()
	fetcher := &fakeFetcher{}
	clock := &fakeClock{}
	sessions := session.New(storage.New(""))
	poller := notify.New(fetcher, sessions, 30*time.Second, notify.WithClock(clock))
	return poller, fetcher, clock, sessions
}

func TestPoller_FetchesImmediatelyAndOnInterval(t *testing.T) {
	poller, fetcher, clock, sessions := newPoller(t)
	fetcher.set(models.NotificationCounts{Unread: 3, PendingRecommendations: 1}, nil)

	poller.Start()
	defer poller.Stop()

	require.NoError(t, sessions.Login(adminPrincipal(), "tok-1"))

	// immediate fetch on activation
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, eventuallyTick)
	assert.Equal(t, 3, poller.Counts().Unread)

	// one more fetch per interval tick
	clock.tick()
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, eventuallyTick)
	clock.tick()
	require.Eventually(t, func() bool { return fetcher.callCount() == 3 }, time.Second, eventuallyTick)
}

func TestPoller_GuestAndUnauthorizedRolesNeverFetch(t *testing.T) {
	tests := []struct {
		name string
		role models.Role
	}{
		{"guest", models.RoleGuest},
		{"student", models.RoleStudent},
		{"mentor", models.RoleMentor},
		{"finance", models.RoleFinance},
		{"auditor", models.RoleAuditor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poller, fetcher, _, sessions := newPoller(t)
			poller.Start()
			defer poller.Stop()

			principal := adminPrincipal()
			principal.Role = tt.role
			require.NoError(t, sessions.Login(principal, "tok-1"))

			time.Sleep(50 * time.Millisecond)
			assert.Zero(t, fetcher.callCount())
		})
	}
}

func TestPoller_StopsOnLogout(t *testing.T) {
	poller, fetcher, clock, sessions := newPoller(t)
	poller.Start()
	defer poller.Stop()

	require.NoError(t, sessions.Login(adminPrincipal(), "tok-1"))
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, eventuallyTick)

	sessions.Logout()

	// the interval is cancelled: later ticks produce no fetches
	clock.tryTick()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fetcher.callCount())
	assert.Zero(t, poller.Counts().Unread)
}

func TestPoller_FailuresKeepPreviousCounts(t *testing.T) {
	poller, fetcher, clock, sessions := newPoller(t)
	fetcher.set(models.NotificationCounts{Unread: 5}, nil)

	poller.Start()
	defer poller.Stop()

	require.NoError(t, sessions.Login(adminPrincipal(), "tok-1"))
	require.Eventually(t, func() bool { return poller.Counts().Unread == 5 }, time.Second, eventuallyTick)

	fetcher.set(models.NotificationCounts{}, fmt.Errorf("backend down"))
	clock.tick()
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, eventuallyTick)

	// stale-but-present beats erroring
	assert.Equal(t, 5, poller.Counts().Unread)
}

func TestPoller_UserSwitchRestartsLoop(t *testing.T) {
	poller, fetcher, _, sessions := newPoller(t)
	poller.Start()
	defer poller.Stop()

	require.NoError(t, sessions.Login(adminPrincipal(), "tok-1"))
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, eventuallyTick)

	// switch to another authorized user without logout
	second := adminPrincipal()
	second.ID = "a-2"
	second.Role = models.RoleManager
	require.NoError(t, sessions.Login(second, "tok-2"))

	// fresh loop fetches immediately for the new identity
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, eventuallyTick)
}
