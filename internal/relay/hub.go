package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/realtime"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/metrics"
)

// Server-published event names without a client-side counterpart constant
const (
	eventMessageNew = "message:new"
)

// Hub tracks live sessions and fans events out to them. It is the relay's
// single source of truth for presence: a user is online while at least one
// of their sessions is registered.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
	}
}

// Register creates a session for a user. The new session receives the
// current presence snapshot; other users see a user:online delta when this
// is the user's first session.
func (h *Hub) Register(userID, transport string) *Session {
	s := newSession(userID, transport)

	h.mu.Lock()
	first := len(h.byUser[userID]) == 0
	h.sessions[s.ID] = s
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]*Session)
	}
	h.byUser[userID][s.ID] = s
	online := h.onlineLocked()
	h.mu.Unlock()

	metrics.RelaySessions.WithLabelValues(transport).Inc()

	s.send(envelope(realtime.EventUsersOnline.String(), rosterPayload{UserIDs: online}))
	if first {
		h.broadcast(envelope(realtime.EventUserOnline.String(), userPayload{UserID: userID}), s.ID)
	}

	logger.Info("Relay session opened",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID),
		zap.String("transport", transport))
	return s
}

// Unregister tears a session down. Other users see a user:offline delta
// when this was the user's last session.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	delete(h.byUser[s.UserID], s.ID)
	last := len(h.byUser[s.UserID]) == 0
	if last {
		delete(h.byUser, s.UserID)
	}
	h.mu.Unlock()

	s.close()
	metrics.RelaySessions.WithLabelValues(s.Transport).Dec()

	if last {
		h.broadcast(envelope(realtime.EventUserOffline.String(), userPayload{UserID: s.UserID}), s.ID)
	}

	logger.Info("Relay session closed",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID))
}

// Lookup returns a registered session by id
func (h *Hub) Lookup(sessionID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	return s, ok
}

// OnlineUsers returns the sorted set of user ids with live sessions
func (h *Hub) OnlineUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onlineLocked()
}

func (h *Hub) onlineLocked() []string {
	online := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}

// ForceLogout pushes a force_logout event to every session of a user and
// tears the sessions down. Returns the number of sessions notified.
func (h *Hub) ForceLogout(userID, reason, message string) int {
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	env := envelope(realtime.EventForceLogout.String(), forceLogoutPayload{
		Message: message,
		Reason:  reason,
	})
	for _, s := range targets {
		s.send(env)
	}

	// give transports a moment to flush before the teardown
	if len(targets) > 0 {
		go func() {
			time.Sleep(250 * time.Millisecond)
			for _, s := range targets {
				h.Unregister(s)
			}
		}()
	}
	return len(targets)
}

// HandleEmit dispatches one client-emitted envelope
func (h *Hub) HandleEmit(s *Session, env realtime.Envelope) {
	switch env.Event {
	case realtime.EmitConversationJoin:
		var p conversationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
			return
		}
		s.joinRoom(p.ConversationID)

	case realtime.EmitConversationLeave:
		var p conversationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
			return
		}
		s.leaveRoom(p.ConversationID)

	case realtime.EmitMessageSend:
		var intent models.SendMessageIntent
		if err := json.Unmarshal(env.Data, &intent); err != nil {
			logger.Warn("Malformed message:send payload", zap.Error(err))
			return
		}
		now := time.Now().UTC()
		msg := models.Message{
			ID:             uuid.NewString(),
			ConversationID: intent.ConversationID,
			SenderID:       s.UserID,
			ReceiverID:     intent.ReceiverID,
			Content:        intent.Content,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		h.fanOut(s, intent.ConversationID, intent.ReceiverID, envelope(eventMessageNew, msg))

	case realtime.EmitTypingStart, realtime.EmitTypingStop:
		var sig models.TypingSignal
		if err := json.Unmarshal(env.Data, &sig); err != nil {
			return
		}
		h.fanOut(s, sig.ConversationID, sig.ReceiverID, envelope(env.Event, typingBroadcast{
			ConversationID: sig.ConversationID,
			UserID:         s.UserID,
		}))

	case realtime.EmitMessageRead:
		var receipt models.ReadReceipt
		if err := json.Unmarshal(env.Data, &receipt); err != nil {
			return
		}
		h.fanOut(s, receipt.ConversationID, "", envelope(env.Event, readBroadcast{
			ConversationID: receipt.ConversationID,
			MessageIDs:     receipt.MessageIDs,
			ReaderID:       s.UserID,
		}))

	default:
		logger.Debug("Ignoring unknown client emit", zap.String("event", env.Event))
	}
}

// fanOut delivers an envelope to every session subscribed to the
// conversation plus all sessions of the receiver, excluding the sender's
// own session.
func (h *Hub) fanOut(from *Session, conversationID, receiverID string, env realtime.Envelope) {
	h.mu.Lock()
	targets := make([]*Session, 0, 4)
	seen := map[string]bool{from.ID: true}
	for _, s := range h.sessions {
		if seen[s.ID] {
			continue
		}
		if s.inRoom(conversationID) || (receiverID != "" && s.UserID == receiverID) {
			targets = append(targets, s)
			seen[s.ID] = true
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.send(env)
	}
}

// broadcast delivers an envelope to every session except the named one
func (h *Hub) broadcast(env realtime.Envelope, exceptSessionID string) {
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.ID != exceptSessionID {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.send(env)
	}
}

// ReapIdle periodically unregisters polling sessions that stopped polling.
// Websocket sessions are excluded; their disconnect is observed directly.
func (h *Hub) ReapIdle(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h.mu.Lock()
		stale := make([]*Session, 0)
		for _, s := range h.sessions {
			if s.Transport == "polling" && time.Since(s.idleSince()) > maxIdle {
				stale = append(stale, s)
			}
		}
		h.mu.Unlock()

		for _, s := range stale {
			logger.Info("Reaping idle polling session", zap.String("session_id", s.ID))
			h.Unregister(s)
		}
	}
}

// Wire payloads published by the relay

type userPayload struct {
	UserID string `json:"user_id"`
}

type rosterPayload struct {
	UserIDs []string `json:"user_ids"`
}

type forceLogoutPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type conversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type typingBroadcast struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type readBroadcast struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
	ReaderID       string   `json:"reader_id"`
}

func envelope(event string, payload interface{}) realtime.Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to encode relay envelope", zap.String("event", event), zap.Error(err))
		return realtime.Envelope{Event: event}
	}
	return realtime.Envelope{Event: event, Data: data}
}
