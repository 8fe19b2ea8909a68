package realtime_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadex/acadex-client/internal/realtime"
)

func TestParseEventType(t *testing.T) {
	tests := []struct {
		name     string
		expected realtime.EventType
	}{
		{"connect", realtime.EventConnect},
		{"disconnect", realtime.EventDisconnect},
		{"users:online", realtime.EventUsersOnline},
		{"user:online", realtime.EventUserOnline},
		{"user:offline", realtime.EventUserOffline},
		{"connect_error", realtime.EventConnectError},
		{"reconnect", realtime.EventReconnect},
		{"reconnect_attempt", realtime.EventReconnectAttempt},
		{"reconnect_error", realtime.EventReconnectError},
		{"reconnect_failed", realtime.EventReconnectFailed},
		{"force_logout", realtime.EventForceLogout},
		{"something:else", realtime.EventUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, realtime.ParseEventType(tt.name))
		})
	}
}

func TestDecodeEvent_Roster(t *testing.T) {
	ev, err := realtime.DecodeEvent(realtime.Envelope{
		Event: "users:online",
		Data:  json.RawMessage(`{"user_ids":["a","b"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, realtime.EventUsersOnline, ev.Type)
	assert.Equal(t, []string{"a", "b"}, ev.UserIDs)

	ev, err = realtime.DecodeEvent(realtime.Envelope{
		Event: "user:online",
		Data:  json.RawMessage(`{"user_id":"c"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "c", ev.UserID)
}

func TestDecodeEvent_ForceLogout(t *testing.T) {
	ev, err := realtime.DecodeEvent(realtime.Envelope{
		Event: "force_logout",
		Data:  json.RawMessage(`{"message":"School deactivated","reason":"school_deactivated"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, realtime.EventForceLogout, ev.Type)
	assert.Equal(t, "School deactivated", ev.Message)
	assert.Equal(t, "school_deactivated", ev.Reason)
}

func TestDecodeEvent_MalformedPayload(t *testing.T) {
	_, err := realtime.DecodeEvent(realtime.Envelope{
		Event: "users:online",
		Data:  json.RawMessage(`not-json`),
	})
	assert.Error(t, err)
}

func TestDecodeEvent_ReconnectWithoutPayload(t *testing.T) {
	ev, err := realtime.DecodeEvent(realtime.Envelope{Event: "reconnect"})
	require.NoError(t, err)
	assert.Equal(t, realtime.EventReconnect, ev.Type)
	assert.Zero(t, ev.Attempt)
}
