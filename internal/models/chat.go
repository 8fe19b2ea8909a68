package models

import "time"

// Message is a transient client-side copy of a chat message.
// The server is authoritative for persistence, read state and soft deletion.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Conversation is a two-participant thread with a denormalized last-message
// summary and unread counter, as pushed by the server.
type Conversation struct {
	ID             string   `json:"id"`
	ParticipantIDs []string `json:"participant_ids"`
	LastMessage    *Message `json:"last_message,omitempty"`
	UnreadCount    int      `json:"unread_count"`
}

// SendMessageIntent is the payload of an outbound message:send emit
type SendMessageIntent struct {
	ConversationID string `json:"conversation_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	ClientRef      string `json:"client_ref,omitempty"`
}

// TypingSignal is the payload of typing:start / typing:stop emits
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	ReceiverID     string `json:"receiver_id"`
}

// ReadReceipt is the payload of a message:read emit
type ReadReceipt struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}
