package realtime

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/pkg/logger"
)

// The action surface is intent-based and always safe: every method is a
// silent no-op while the channel is not connected. Nothing is queued for
// later delivery and nothing panics or errors back to the caller; the
// server is the authority on persistence and fan-out.

type conversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessage emits a send intent for a conversation. No optimistic local
// echo happens here; the UI layer owns that if it wants it. A missing
// ClientRef gets one, so the server's echo can be correlated back.
func (m *Manager) SendMessage(intent models.SendMessageIntent) {
	if intent.ClientRef == "" {
		intent.ClientRef = uuid.NewString()
	}
	m.emit(EmitMessageSend, intent)
}

// JoinConversation subscribes this client to a conversation's event room
func (m *Manager) JoinConversation(conversationID string) {
	m.emit(EmitConversationJoin, conversationPayload{ConversationID: conversationID})
}

// LeaveConversation unsubscribes this client from a conversation's event room
func (m *Manager) LeaveConversation(conversationID string) {
	m.emit(EmitConversationLeave, conversationPayload{ConversationID: conversationID})
}

// StartTyping signals ephemeral typing presence. No debounce is applied
// here; callers own their own cadence.
func (m *Manager) StartTyping(conversationID, receiverID string) {
	m.emit(EmitTypingStart, models.TypingSignal{ConversationID: conversationID, ReceiverID: receiverID})
}

// StopTyping clears the typing presence signal
func (m *Manager) StopTyping(conversationID, receiverID string) {
	m.emit(EmitTypingStop, models.TypingSignal{ConversationID: conversationID, ReceiverID: receiverID})
}

// MarkMessagesRead emits a read-receipt intent. Local message state is not
// mutated; confirmation arrives through the server's own events.
func (m *Manager) MarkMessagesRead(conversationID string, messageIDs []string) {
	m.emit(EmitMessageRead, models.ReadReceipt{ConversationID: conversationID, MessageIDs: messageIDs})
}

func (m *Manager) emit(event string, payload interface{}) {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.Emit(event, payload); err != nil {
		// emit failures degrade silently; the read side will notice the
		// broken connection and drive the state machine
		logger.Warn("Channel emit failed",
			zap.String("event", event),
			zap.Error(err))
	}
}
