// Package realtime owns the live event channel: exactly one connection per
// non-guest authenticated session, the online-user roster, and a small
// action surface that is always safe to call.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/acadex/acadex-client/config"
	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/session"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/metrics"
	"github.com/acadex/acadex-client/pkg/retry"
)

// State is the channel manager's connection state
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ForceLogoutNotice is the user-facing result of a server-initiated session
// revocation. The embedder shows it and navigates to its login surface.
type ForceLogoutNotice struct {
	Message string
	Reason  string
}

const (
	reasonSchoolDeactivated = "school_deactivated"

	noticeSchoolDeactivated = "Your school has been deactivated. Please contact your administrator."
	noticeGeneric           = "Your session has been terminated. Please sign in again."
)

// Manager maintains the channel connection for the current session
type Manager struct {
	cfg         config.RealtimeConfig
	channelBase string
	sessions    *session.Store

	negotiate     func(ctx context.Context) Transport
	fallback      func() Transport
	onForceLogout func(ForceLogoutNotice)

	mu         sync.Mutex
	state      State
	conn       Conn
	cancel     context.CancelFunc
	generation int
	roster     *roster
	unwatch    func()
}

// ManagerOption customizes the manager
type ManagerOption func(*Manager)

// WithTransport overrides transport negotiation (tests)
func WithTransport(t Transport) ManagerOption {
	return func(m *Manager) {
		m.negotiate = func(context.Context) Transport { return t }
	}
}

// WithFallbackTransport overrides the degraded-path transport (tests)
func WithFallbackTransport(t Transport) ManagerOption {
	return func(m *Manager) {
		m.fallback = func() Transport { return t }
	}
}

// WithForceLogoutHook sets the callback invoked after a force_logout event
// has destroyed the session
func WithForceLogoutHook(fn func(ForceLogoutNotice)) ManagerOption {
	return func(m *Manager) {
		m.onForceLogout = fn
	}
}

// NewManager creates the channel manager. channelBase is the REST base URL
// with the API path suffix stripped.
func NewManager(cfg config.RealtimeConfig, channelBase string, sessions *session.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:           cfg,
		channelBase:   channelBase,
		sessions:      sessions,
		roster:        newRoster(),
		onForceLogout: func(ForceLogoutNotice) {},
	}
	m.negotiate = func(ctx context.Context) Transport {
		return Negotiate(ctx, cfg, channelBase)
	}
	m.fallback = func() Transport {
		// conservative configuration: polling only, no upgrade, short timeout
		return NewPollingTransport(cfg.ProbeTimeout, cfg.PollWait)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start wires the manager to session identity changes and connects if a
// non-guest session is already active.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.unwatch != nil {
		m.mu.Unlock()
		return
	}
	m.unwatch = m.sessions.Watch(m.onSessionChange)
	m.mu.Unlock()

	if current := m.sessions.Current(); current != nil {
		m.onSessionChange(nil, current)
	}
}

// Stop tears the connection down and stops observing the session
func (m *Manager) Stop() {
	m.mu.Lock()
	unwatch := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	m.teardown()
}

// onSessionChange reacts to identity changes. A change of principal id tears
// down the previous user's channel before anything else happens, so events
// from the old connection can never touch the new session's state.
func (m *Manager) onSessionChange(old, current *models.Principal) {
	if current == nil || current.IsGuest() {
		m.teardown()
		return
	}

	if old != nil && old.ID == current.ID {
		// same principal: token refresh alone does not recycle the channel
		return
	}

	m.teardown()

	token := m.sessions.Token()
	if token == "" {
		return
	}
	m.connect(token)
}

func (m *Manager) connect(token string) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return
	}
	m.generation++
	gen := m.generation
	m.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go m.dial(ctx, gen, token)
}

// dial negotiates and opens the connection. When the preferred handshake
// fails before a connection exists, the manager makes exactly one more
// attempt on the conservative fallback transport, then accepts a
// disconnected steady state with no user-facing error.
func (m *Manager) dial(ctx context.Context, gen int, token string) {
	transport := m.negotiate(ctx)

	conn, err := transport.Dial(ctx, m.channelBase, token)
	if err != nil {
		logger.Warn("Channel handshake failed, trying fallback transport",
			zap.String("transport", transport.Name()), zap.Error(err))

		fb := m.fallback()
		conn, err = retry.DoWithResult(ctx, retry.HandshakeConfig(), "channel fallback handshake",
			func() (Conn, error) {
				return fb.Dial(ctx, m.channelBase, token)
			})
		if err != nil {
			logger.Warn("Channel unavailable, realtime features degraded", zap.Error(err))
			m.mu.Lock()
			if gen == m.generation {
				m.state = StateIdle
			}
			m.mu.Unlock()
			return
		}
	}

	m.mu.Lock()
	if gen != m.generation {
		// torn down while dialing; this connection belongs to a dead session
		m.mu.Unlock()
		_ = conn.Close() //nolint:errcheck
		return
	}
	m.conn = conn
	m.mu.Unlock()

	go m.consume(gen, conn)
}

func (m *Manager) consume(gen int, conn Conn) {
	for ev := range conn.Events() {
		m.handle(gen, ev)
	}

	// events channel closed: the transport gave up or was closed
	m.mu.Lock()
	if gen == m.generation && m.conn == conn {
		m.conn = nil
		m.state = StateDisconnected
		metrics.ChannelConnected.Set(0)
	}
	m.mu.Unlock()
}

func (m *Manager) handle(gen int, ev Event) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}

	switch ev.Type {
	case EventConnect:
		m.state = StateConnected
		metrics.ChannelConnected.Set(1)
		logger.Info("Channel connected")

	case EventDisconnect:
		// roster keeps its last-known contents until a fresh snapshot
		// arrives or the session itself is torn down
		m.state = StateDisconnected
		metrics.ChannelConnected.Set(0)
		logger.Info("Channel disconnected")

	case EventUsersOnline:
		m.roster.replace(ev.UserIDs)
		metrics.OnlineUsers.Set(float64(m.roster.size()))

	case EventUserOnline:
		if m.roster.add(ev.UserID) {
			metrics.OnlineUsers.Set(float64(m.roster.size()))
		}

	case EventUserOffline:
		if m.roster.remove(ev.UserID) {
			metrics.OnlineUsers.Set(float64(m.roster.size()))
		}

	case EventConnectError, EventReconnectError, EventReconnectFailed:
		logger.Warn("Channel transport error",
			zap.String("event", ev.Type.String()),
			zap.String("detail", ev.Message))

	case EventReconnect, EventReconnectAttempt:
		logger.Debug("Channel reconnect activity",
			zap.String("event", ev.Type.String()),
			zap.Int("attempt", ev.Attempt))

	case EventForceLogout:
		m.mu.Unlock()
		m.handleForceLogout(ev)
		return

	case EventUnknown:
	}

	m.mu.Unlock()
}

// handleForceLogout honors a server-initiated session revocation: no
// confirmation, no delay. Logout clears durable storage and fires the
// session watch, which tears this connection down.
func (m *Manager) handleForceLogout(ev Event) {
	logger.Warn("Forced logout received",
		zap.String("reason", ev.Reason))

	notice := ForceLogoutNotice{Reason: ev.Reason, Message: noticeGeneric}
	if ev.Reason == reasonSchoolDeactivated {
		notice.Message = noticeSchoolDeactivated
	}
	if ev.Message != "" {
		// server-provided text wins over the built-in copy
		notice.Message = ev.Message
	}

	m.sessions.Logout()
	m.onForceLogout(notice)
}

func (m *Manager) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close() //nolint:errcheck
		m.conn = nil
	}
	m.generation++
	m.state = StateIdle
	m.roster.clear()
	metrics.ChannelConnected.Set(0)
	metrics.OnlineUsers.Set(0)
}

// Connected reports whether the channel is live
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Roster returns the last-known online user ids in arrival order
func (m *Manager) Roster() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roster.snapshot()
}

// Online reports whether a user id is in the roster
func (m *Manager) Online(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roster.contains(userID)
}
