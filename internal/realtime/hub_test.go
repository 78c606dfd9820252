package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/calls"
	"github.com/vaani-market/backend/internal/models"
)

func newTestHub() *Hub {
	return NewHub(zap.NewNop(), nil, nil, nil)
}

func newTestClient(userID uuid.UUID, buffer int) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		send:   make(chan WSMessage, buffer),
		rooms:  make(map[string]struct{}),
		logger: zap.NewNop(),
	}
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected a message, got none")
		return WSMessage{}
	}
}

func TestSendToUserReachesAllConnections(t *testing.T) {
	hub := newTestHub()
	userID := uuid.New()
	a := newTestClient(userID, 8)
	b := newTestClient(userID, 8)
	hub.Register(a)
	hub.Register(b)

	hub.SendToUser(userID, "call_invitation", map[string]string{"call_id": "x"})

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		if msg.Type != "call_invitation" {
			t.Fatalf("type = %q, want call_invitation", msg.Type)
		}
	}
}

func TestConversationEventsReachSubscribersOnly(t *testing.T) {
	hub := newTestHub()
	subscriber := newTestClient(uuid.New(), 8)
	bystander := newTestClient(uuid.New(), 8)
	hub.Register(subscriber)
	hub.Register(bystander)

	convID := uuid.New()
	hub.SubscribeConversation(subscriber, convID)

	hub.PublishToConversation(convID, "new_message", map[string]string{"body": "hello"})

	msg := receive(t, subscriber)
	if msg.Type != "new_message" {
		t.Fatalf("type = %q, want new_message", msg.Type)
	}
	if msg.ConversationID == nil || *msg.ConversationID != convID {
		t.Fatalf("conversation_id = %v, want %s", msg.ConversationID, convID)
	}
	select {
	case got := <-bystander.send:
		t.Fatalf("bystander received %q", got.Type)
	default:
	}
}

func TestUnregisterLeavesEveryRoom(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(uuid.New(), 8)
	hub.Register(client)

	convID := uuid.New()
	callID := uuid.New()
	hub.SubscribeConversation(client, convID)
	hub.SubscribeCall(client, callID)

	hub.Unregister(client)

	if n := hub.RoomCount(convID); n != 0 {
		t.Fatalf("conversation room has %d clients after unregister", n)
	}
	hub.PublishToConversation(convID, "new_message", nil)
	hub.PublishToCall(callID, "call_ended", nil)
	select {
	case got := <-client.send:
		t.Fatalf("unregistered client received %q", got.Type)
	default:
	}
}

// A dropped WebSocket ends the connection, not the call: the session stays
// live in the registry and a reconnecting client that replays subscribe
// receives subsequent call events.
func TestReconnectResubscribeKeepsCallAlive(t *testing.T) {
	hub := newTestHub()
	registry := calls.NewRegistry(zap.NewNop(), nil)

	caller := models.Participant{ID: "u-caller", PreferredLanguage: "hi"}
	callee := models.Participant{ID: "u-callee", PreferredLanguage: "en"}
	session, err := registry.Create(caller, callee, models.CallKindVoice, true, calls.EventInitiate)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.Transition(session.ID, calls.EventAnswerAccepted, ""); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := registry.Transition(session.ID, calls.EventNegotiationComplete, ""); err != nil {
		t.Fatalf("negotiation complete: %v", err)
	}

	userID := uuid.New()
	first := newTestClient(userID, 8)
	hub.Register(first)
	hub.SubscribeCall(first, session.ID)

	// Channel drops mid-call.
	hub.Unregister(first)

	if st, err := registry.State(session.ID); err != nil || st != calls.StateConnected {
		t.Fatalf("state after disconnect = %v, %v; want connected", st, err)
	}
	if n := registry.ActiveCount(); n != 1 {
		t.Fatalf("active sessions after disconnect = %d, want 1", n)
	}

	// Reconnect and replay the subscription.
	second := newTestClient(userID, 8)
	hub.Register(second)
	hub.SubscribeCall(second, session.ID)

	hub.PublishToCall(session.ID, "voice_translation", map[string]string{"text": "namaste"})
	msg := receive(t, second)
	if msg.Type != "voice_translation" {
		t.Fatalf("type = %q, want voice_translation", msg.Type)
	}
	if msg.CallID == nil || *msg.CallID != session.ID {
		t.Fatalf("call_id = %v, want %s", msg.CallID, session.ID)
	}
}

func TestFullBufferNeverBlocksBroadcast(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(uuid.New(), 1)
	hub.Register(client)

	convID := uuid.New()
	hub.SubscribeConversation(client, convID)

	done := make(chan struct{})
	go func() {
		hub.PublishToConversation(convID, "new_message", map[string]string{"n": "1"})
		hub.PublishToConversation(convID, "new_message", map[string]string{"n": "2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if got := len(client.send); got != 1 {
		t.Fatalf("buffered %d messages, want 1 (overflow dropped)", got)
	}
}

type presenceRecorder struct {
	connected    chan uuid.UUID
	disconnected chan uuid.UUID
	heartbeats   chan uuid.UUID
}

func newPresenceRecorder() *presenceRecorder {
	return &presenceRecorder{
		connected:    make(chan uuid.UUID, 4),
		disconnected: make(chan uuid.UUID, 4),
		heartbeats:   make(chan uuid.UUID, 4),
	}
}

func (p *presenceRecorder) Connected(id uuid.UUID)    { p.connected <- id }
func (p *presenceRecorder) Disconnected(id uuid.UUID) { p.disconnected <- id }
func (p *presenceRecorder) Heartbeat(id uuid.UUID)    { p.heartbeats <- id }

func waitFor(t *testing.T, ch chan uuid.UUID, want uuid.UUID) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("presence fired for %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("presence event not fired")
	}
}

func TestPresenceFiresOnFirstAndLastConnection(t *testing.T) {
	hub := newTestHub()
	rec := newPresenceRecorder()
	hub.SetPresenceListener(rec)

	userID := uuid.New()
	a := newTestClient(userID, 8)
	b := newTestClient(userID, 8)

	hub.Register(a)
	waitFor(t, rec.connected, userID)

	hub.Register(b)
	select {
	case <-rec.connected:
		t.Fatal("second connection must not fire Connected again")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(a)
	select {
	case <-rec.disconnected:
		t.Fatal("Disconnected fired while a connection remains")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(b)
	waitFor(t, rec.disconnected, userID)
}

func TestPongHeartbeatReachesPresenceListener(t *testing.T) {
	hub := newTestHub()
	rec := newPresenceRecorder()
	hub.SetPresenceListener(rec)

	userID := uuid.New()
	client := newTestClient(userID, 8)
	hub.Register(client)
	waitFor(t, rec.connected, userID)

	hub.heartbeat(client.UserID)
	waitFor(t, rec.heartbeats, userID)
}
