package realtime

import (
	"encoding/json"
	"fmt"
)

// EventType is the closed set of inbound channel events. Dispatch switches
// exhaustively on this type instead of string-keyed handler registration.
type EventType int

const (
	EventUnknown EventType = iota
	EventConnect
	EventDisconnect
	EventUsersOnline
	EventUserOnline
	EventUserOffline
	EventConnectError
	EventReconnect
	EventReconnectAttempt
	EventReconnectError
	EventReconnectFailed
	EventForceLogout
)

// Wire names of inbound events
const (
	wireConnect          = "connect"
	wireDisconnect       = "disconnect"
	wireUsersOnline      = "users:online"
	wireUserOnline       = "user:online"
	wireUserOffline      = "user:offline"
	wireConnectError     = "connect_error"
	wireReconnect        = "reconnect"
	wireReconnectAttempt = "reconnect_attempt"
	wireReconnectError   = "reconnect_error"
	wireReconnectFailed  = "reconnect_failed"
	wireForceLogout      = "force_logout"
)

// Wire names of client-emitted events
const (
	EmitMessageSend       = "message:send"
	EmitConversationJoin  = "conversation:join"
	EmitConversationLeave = "conversation:leave"
	EmitTypingStart       = "typing:start"
	EmitTypingStop        = "typing:stop"
	EmitMessageRead       = "message:read"
)

var eventNames = map[EventType]string{
	EventConnect:          wireConnect,
	EventDisconnect:       wireDisconnect,
	EventUsersOnline:      wireUsersOnline,
	EventUserOnline:       wireUserOnline,
	EventUserOffline:      wireUserOffline,
	EventConnectError:     wireConnectError,
	EventReconnect:        wireReconnect,
	EventReconnectAttempt: wireReconnectAttempt,
	EventReconnectError:   wireReconnectError,
	EventReconnectFailed:  wireReconnectFailed,
	EventForceLogout:      wireForceLogout,
}

var eventTypes = func() map[string]EventType {
	m := make(map[string]EventType, len(eventNames))
	for t, name := range eventNames {
		m[name] = t
	}
	return m
}()

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseEventType maps a wire event name to its type; unknown names map to
// EventUnknown and are ignored by the manager.
func ParseEventType(name string) EventType {
	return eventTypes[name]
}

// Envelope is the JSON wire frame for both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound event. Only the fields relevant to its Type
// are populated.
type Event struct {
	Type    EventType
	UserID  string   // user:online, user:offline
	UserIDs []string // users:online
	Attempt int      // reconnect, reconnect_attempt
	Message string   // force_logout, connect_error and friends
	Reason  string   // force_logout
}

type userPayload struct {
	UserID string `json:"user_id"`
}

type rosterPayload struct {
	UserIDs []string `json:"user_ids"`
}

type attemptPayload struct {
	Attempt int `json:"attempt"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type forceLogoutPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// DecodeEvent turns a wire envelope into a typed event
func DecodeEvent(env Envelope) (Event, error) {
	ev := Event{Type: ParseEventType(env.Event)}

	switch ev.Type {
	case EventUnknown, EventConnect, EventDisconnect:
		return ev, nil

	case EventUsersOnline:
		var p rosterPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return ev, fmt.Errorf("malformed %s payload: %w", env.Event, err)
		}
		ev.UserIDs = p.UserIDs
		return ev, nil

	case EventUserOnline, EventUserOffline:
		var p userPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return ev, fmt.Errorf("malformed %s payload: %w", env.Event, err)
		}
		ev.UserID = p.UserID
		return ev, nil

	case EventReconnect, EventReconnectAttempt:
		var p attemptPayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return ev, fmt.Errorf("malformed %s payload: %w", env.Event, err)
			}
		}
		ev.Attempt = p.Attempt
		return ev, nil

	case EventConnectError, EventReconnectError, EventReconnectFailed:
		var p errorPayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return ev, fmt.Errorf("malformed %s payload: %w", env.Event, err)
			}
		}
		ev.Message = p.Message
		return ev, nil

	case EventForceLogout:
		var p forceLogoutPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return ev, fmt.Errorf("malformed %s payload: %w", env.Event, err)
		}
		ev.Message = p.Message
		ev.Reason = p.Reason
		return ev, nil
	}

	return ev, nil
}
