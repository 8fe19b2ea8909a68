package realtime_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadex/acadex-client/config"
	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/realtime"
	"github.com/acadex/acadex-client/internal/session"
	"github.com/acadex/acadex-client/internal/storage"
)

const eventuallyTick = 5 * time.Millisecond

type emitRecord struct {
	event   string
	payload interface{}
}

type fakeConn struct {
	events chan realtime.Event

	mu      sync.Mutex
	emitted []emitRecord
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan realtime.Event, 32)}
}

func (c *fakeConn) Events() <-chan realtime.Event { return c.events }

func (c *fakeConn) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, emitRecord{event, payload})
	return nil
}

// Close marks the conn closed without closing the events channel so tests
// can still push late events from a dead connection.
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) emitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.emitted)
}

func (c *fakeConn) push(ev realtime.Event) {
	c.events <- ev
}

type fakeTransport struct {
	mu       sync.Mutex
	dials    int
	failures int // number of leading dials that fail
	conns    []*fakeConn
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context, baseURL, token string) (realtime.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.dials <= t.failures {
		return nil, fmt.Errorf("dial refused")
	}
	conn := newFakeConn()
	conn.events <- realtime.Event{Type: realtime.EventConnect}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

func realtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		HandshakeTimeout:  time.Second,
		ProbeTimeout:      time.Second,
		ReconnectMaxDelay: time.Second,
		PollWait:          time.Second,
	}
}

func newSession(t *testing.T) (*session.Store, *storage.Store) {
	t.Helper()
	st := storage.New("")
	return session.New(st), st
}

func principal(id string, role models.Role) *models.Principal {
	return &models.Principal{ID: id, Name: "User " + id, Email: id + "@school.test", Role: role}
}

func waitConnected(t *testing.T, m *realtime.Manager) {
	t.Helper()
	require.Eventually(t, m.Connected, time.Second, eventuallyTick, "manager never connected")
}

func TestManager_ConnectsOnLogin(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport))
	m.Start()
	defer m.Stop()

	assert.Equal(t, realtime.StateIdle, m.State())

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)
	assert.Equal(t, 1, transport.dialCount())
}

func TestManager_GuestExclusion(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport), realtime.WithFallbackTransport(transport))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("g-1", models.RoleGuest), "tok-g"))

	// give any wrongly-spawned dial goroutine time to run
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, transport.dialCount(), "guests must never trigger handshakes")
	assert.Equal(t, realtime.StateIdle, m.State())
}

func TestManager_DisconnectOnLogout(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)

	sessions.Logout()
	assert.Equal(t, realtime.StateIdle, m.State())
	assert.True(t, transport.conn(0).isClosed())
	assert.Empty(t, m.Roster())
}

func TestManager_IdentitySwitchRecyclesConnection(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)

	first := transport.conn(0)
	first.push(realtime.Event{Type: realtime.EventUsersOnline, UserIDs: []string{"u-9"}})
	require.Eventually(t, func() bool { return m.Online("u-9") }, time.Second, eventuallyTick)

	// switch users without an intervening logout
	require.NoError(t, sessions.Login(principal("u-2", models.RoleStudent), "tok-2"))
	waitConnected(t, m)
	require.Equal(t, 2, transport.dialCount())
	assert.True(t, first.isClosed(), "previous user's channel must be closed")

	// the new session starts with a clean roster
	assert.Empty(t, m.Roster())

	// a late event from the dead connection must not leak into the new session
	first.push(realtime.Event{Type: realtime.EventUsersOnline, UserIDs: []string{"ghost"}})
	time.Sleep(50 * time.Millisecond)
	assert.False(t, m.Online("ghost"))
}

func TestManager_TokenRefreshKeepsConnection(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)

	// same principal id, fresh token: the channel stays up
	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1b"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.dialCount())
	assert.True(t, m.Connected())
}

func TestManager_ActionsAreNoOpsWhenDisconnected(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)
	conn := transport.conn(0)

	conn.push(realtime.Event{Type: realtime.EventDisconnect})
	require.Eventually(t, func() bool { return !m.Connected() }, time.Second, eventuallyTick)

	assert.NotPanics(t, func() {
		m.SendMessage(models.SendMessageIntent{ConversationID: "c-1", ReceiverID: "u-2", Content: "hi"})
		m.JoinConversation("c-1")
		m.LeaveConversation("c-1")
		m.StartTyping("c-1", "u-2")
		m.StopTyping("c-1", "u-2")
		m.MarkMessagesRead("c-1", []string{"m-1"})
	})
	assert.Zero(t, conn.emitCount(), "no transport emissions while disconnected")
}

func TestManager_ActionsEmitWhenConnected(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)
	conn := transport.conn(0)

	m.SendMessage(models.SendMessageIntent{ConversationID: "c-1", ReceiverID: "u-2", Content: "hi"})
	m.JoinConversation("c-1")
	m.MarkMessagesRead("c-1", []string{"m-1", "m-2"})

	require.Equal(t, 3, conn.emitCount())
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, "message:send", conn.emitted[0].event)
	assert.Equal(t, "conversation:join", conn.emitted[1].event)
	assert.Equal(t, "message:read", conn.emitted[2].event)
}

func TestManager_RosterIdempotence(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)
	conn := transport.conn(0)

	conn.push(realtime.Event{Type: realtime.EventUsersOnline, UserIDs: []string{"a", "b"}})
	require.Eventually(t, func() bool { return len(m.Roster()) == 2 }, time.Second, eventuallyTick)

	// duplicate add is a no-op
	conn.push(realtime.Event{Type: realtime.EventUserOnline, UserID: "a"})
	// absent remove is a no-op
	conn.push(realtime.Event{Type: realtime.EventUserOffline, UserID: "nobody"})
	// genuine delta
	conn.push(realtime.Event{Type: realtime.EventUserOnline, UserID: "c"})

	require.Eventually(t, func() bool { return m.Online("c") }, time.Second, eventuallyTick)
	assert.Equal(t, []string{"a", "b", "c"}, m.Roster())
}

func TestManager_RosterSurvivesDisconnect(t *testing.T) {
	sessions, _ := newSession(t)
	transport := &fakeTransport{}
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)
	conn := transport.conn(0)

	conn.push(realtime.Event{Type: realtime.EventUsersOnline, UserIDs: []string{"a", "b"}})
	require.Eventually(t, func() bool { return len(m.Roster()) == 2 }, time.Second, eventuallyTick)

	conn.push(realtime.Event{Type: realtime.EventDisconnect})
	require.Eventually(t, func() bool { return !m.Connected() }, time.Second, eventuallyTick)

	// last-known roster is preserved until a fresh push or session teardown
	assert.Equal(t, []string{"a", "b"}, m.Roster())
}

func TestManager_ForceLogout_SchoolDeactivated(t *testing.T) {
	sessions, st := newSession(t)
	transport := &fakeTransport{}

	var noticeMu sync.Mutex
	var notices []realtime.ForceLogoutNotice
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport),
		realtime.WithForceLogoutHook(func(n realtime.ForceLogoutNotice) {
			noticeMu.Lock()
			notices = append(notices, n)
			noticeMu.Unlock()
		}))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)

	transport.conn(0).push(realtime.Event{Type: realtime.EventForceLogout, Reason: "school_deactivated"})

	require.Eventually(t, func() bool {
		noticeMu.Lock()
		defer noticeMu.Unlock()
		return len(notices) == 1
	}, time.Second, eventuallyTick)

	noticeMu.Lock()
	notice := notices[0]
	noticeMu.Unlock()
	assert.Equal(t, "school_deactivated", notice.Reason)
	assert.Contains(t, notice.Message, "school has been deactivated")

	assert.False(t, st.HasSession(), "durable storage must be cleared")
	assert.False(t, sessions.Authenticated())
	assert.Equal(t, realtime.StateIdle, m.State())
}

func TestManager_ForceLogout_GenericReason(t *testing.T) {
	sessions, st := newSession(t)
	transport := &fakeTransport{}

	var noticeMu sync.Mutex
	var notices []realtime.ForceLogoutNotice
	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(transport),
		realtime.WithForceLogoutHook(func(n realtime.ForceLogoutNotice) {
			noticeMu.Lock()
			notices = append(notices, n)
			noticeMu.Unlock()
		}))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)

	transport.conn(0).push(realtime.Event{Type: realtime.EventForceLogout, Reason: "account_suspended"})

	require.Eventually(t, func() bool {
		noticeMu.Lock()
		defer noticeMu.Unlock()
		return len(notices) == 1
	}, time.Second, eventuallyTick)

	noticeMu.Lock()
	notice := notices[0]
	noticeMu.Unlock()
	assert.Contains(t, notice.Message, "session has been terminated")
	assert.False(t, st.HasSession())
}

func TestManager_FallbackHandshakeRetriesOnce(t *testing.T) {
	sessions, _ := newSession(t)
	primary := &fakeTransport{failures: 100} // preferred transport never connects
	fallback := &fakeTransport{failures: 1}  // fails once, succeeds on the retry

	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(primary),
		realtime.WithFallbackTransport(fallback))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))
	waitConnected(t, m)

	assert.Equal(t, 1, primary.dialCount())
	assert.Equal(t, 2, fallback.dialCount(), "fallback handshake retries exactly once")
}

func TestManager_FallbackExhaustionIsSilent(t *testing.T) {
	sessions, _ := newSession(t)
	primary := &fakeTransport{failures: 100}
	fallback := &fakeTransport{failures: 100}

	m := realtime.NewManager(realtimeConfig(), "http://relay.test", sessions,
		realtime.WithTransport(primary),
		realtime.WithFallbackTransport(fallback))
	m.Start()
	defer m.Stop()

	require.NoError(t, sessions.Login(principal("u-1", models.RoleMentor), "tok-1"))

	require.Eventually(t, func() bool {
		return fallback.dialCount() == 2 && m.State() == realtime.StateIdle
	}, 2*time.Second, eventuallyTick)
	assert.False(t, m.Connected())
}
