package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acadex/acadex-client/internal/realtime"
	"github.com/acadex/acadex-client/pkg/logger"
	"go.uber.org/zap"
)

// outBuffer bounds the per-session outbound queue. A session that stops
// draining (a slow websocket peer, an abandoned poll queue) loses events
// rather than blocking the hub.
const outBuffer = 64

// Session is one connected client endpoint. A user may hold several
// sessions at once (multiple tabs, websocket plus polling).
type Session struct {
	ID        string
	UserID    string
	Transport string

	out  chan realtime.Envelope
	done chan struct{}

	mu       sync.Mutex
	rooms    map[string]bool
	lastSeen time.Time

	closeOnce sync.Once
}

func newSession(userID, transport string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Transport: transport,
		out:       make(chan realtime.Envelope, outBuffer),
		done:      make(chan struct{}),
		rooms:     make(map[string]bool),
		lastSeen:  time.Now(),
	}
}

// Out exposes the outbound queue for the transport pump
func (s *Session) Out() <-chan realtime.Envelope { return s.out }

// Done is closed when the session is torn down
func (s *Session) Done() <-chan struct{} { return s.done }

// send queues an envelope without blocking; full queues drop
func (s *Session) send(env realtime.Envelope) {
	select {
	case <-s.done:
	case s.out <- env:
	default:
		logger.Warn("Dropping event for slow relay session",
			zap.String("session_id", s.ID),
			zap.String("event", env.Event))
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) joinRoom(id string) {
	s.mu.Lock()
	s.rooms[id] = true
	s.mu.Unlock()
}

func (s *Session) leaveRoom(id string) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
}

func (s *Session) inRoom(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

// touch records polling activity for idle reaping
func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
