package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/realtime"
)

func recvEnvelope(t *testing.T, s *Session) realtime.Envelope {
	t.Helper()
	select {
	case env := <-s.Out():
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return realtime.Envelope{}
	}
}

func assertNoEnvelope(t *testing.T, s *Session) {
	t.Helper()
	select {
	case env := <-s.Out():
		t.Fatalf("unexpected envelope %q", env.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PresenceLifecycle(t *testing.T) {
	hub := NewHub()

	alice := hub.Register("alice", "websocket")

	// the new session gets a roster snapshot
	env := recvEnvelope(t, alice)
	assert.Equal(t, "users:online", env.Event)
	var roster rosterPayload
	require.NoError(t, json.Unmarshal(env.Data, &roster))
	assert.Equal(t, []string{"alice"}, roster.UserIDs)

	bob := hub.Register("bob", "polling")

	// bob's snapshot includes both users
	env = recvEnvelope(t, bob)
	require.NoError(t, json.Unmarshal(env.Data, &roster))
	assert.Equal(t, []string{"alice", "bob"}, roster.UserIDs)

	// alice sees bob come online
	env = recvEnvelope(t, alice)
	assert.Equal(t, "user:online", env.Event)

	hub.Unregister(bob)
	env = recvEnvelope(t, alice)
	assert.Equal(t, "user:offline", env.Event)
	var user userPayload
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "bob", user.UserID)

	assert.Equal(t, []string{"alice"}, hub.OnlineUsers())
}

func TestHub_SecondSessionEmitsNoPresenceDelta(t *testing.T) {
	hub := NewHub()

	alice := hub.Register("alice", "websocket")
	recvEnvelope(t, alice) // snapshot

	second := hub.Register("alice", "polling")
	recvEnvelope(t, second) // snapshot

	// no user:online for a user who is already online
	assertNoEnvelope(t, alice)

	hub.Unregister(second)
	// still online through the first session
	assertNoEnvelope(t, alice)
	assert.Equal(t, []string{"alice"}, hub.OnlineUsers())
}

func TestHub_MessageFanOut(t *testing.T) {
	hub := NewHub()

	alice := hub.Register("alice", "websocket")
	bob := hub.Register("bob", "websocket")
	carol := hub.Register("carol", "websocket")

	// drain snapshots and presence deltas
	recvEnvelope(t, alice)
	recvEnvelope(t, alice)
	recvEnvelope(t, alice)
	recvEnvelope(t, bob)
	recvEnvelope(t, bob)
	recvEnvelope(t, carol)

	intent, _ := json.Marshal(models.SendMessageIntent{
		ConversationID: "conv-1",
		ReceiverID:     "bob",
		Content:        "hello",
	})
	hub.HandleEmit(alice, realtime.Envelope{Event: realtime.EmitMessageSend, Data: intent})

	env := recvEnvelope(t, bob)
	assert.Equal(t, "message:new", env.Event)
	var msg models.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "hello", msg.Content)
	assert.NotEmpty(t, msg.ID)

	// carol is neither receiver nor room member
	assertNoEnvelope(t, carol)
	// the sender gets no echo
	assertNoEnvelope(t, alice)
}

func TestHub_RoomMembersReceiveTyping(t *testing.T) {
	hub := NewHub()

	alice := hub.Register("alice", "websocket")
	carol := hub.Register("carol", "websocket")
	recvEnvelope(t, alice)
	recvEnvelope(t, alice)
	recvEnvelope(t, carol)

	join, _ := json.Marshal(conversationPayload{ConversationID: "conv-1"})
	hub.HandleEmit(carol, realtime.Envelope{Event: realtime.EmitConversationJoin, Data: join})

	sig, _ := json.Marshal(models.TypingSignal{ConversationID: "conv-1", ReceiverID: "bob"})
	hub.HandleEmit(alice, realtime.Envelope{Event: realtime.EmitTypingStart, Data: sig})

	env := recvEnvelope(t, carol)
	assert.Equal(t, realtime.EmitTypingStart, env.Event)
	var tb typingBroadcast
	require.NoError(t, json.Unmarshal(env.Data, &tb))
	assert.Equal(t, "alice", tb.UserID)

	// after leaving, the room no longer delivers
	hub.HandleEmit(carol, realtime.Envelope{Event: realtime.EmitConversationLeave, Data: join})
	hub.HandleEmit(alice, realtime.Envelope{Event: realtime.EmitTypingStop, Data: sig})
	assertNoEnvelope(t, carol)
}

func TestHub_ForceLogout(t *testing.T) {
	hub := NewHub()

	first := hub.Register("alice", "websocket")
	second := hub.Register("alice", "polling")
	recvEnvelope(t, first)
	recvEnvelope(t, second)

	notified := hub.ForceLogout("alice", "school_deactivated", "Your school has been deactivated.")
	assert.Equal(t, 2, notified)

	for _, s := range []*Session{first, second} {
		env := recvEnvelope(t, s)
		assert.Equal(t, "force_logout", env.Event)
		var p forceLogoutPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.Equal(t, "school_deactivated", p.Reason)
	}

	// sessions are torn down shortly after delivery
	assert.Eventually(t, func() bool {
		return len(hub.OnlineUsers()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_ForceLogoutUnknownUser(t *testing.T) {
	hub := NewHub()
	assert.Zero(t, hub.ForceLogout("ghost", "", ""))
}
