package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// Room key prefixes. A room is a named fanout group: one per conversation,
// one per call, and one per connected user (for direct delivery such as
// call invitations).
func conversationRoom(id uuid.UUID) string { return "conv:" + id.String() }
func callRoom(id uuid.UUID) string         { return "call:" + id.String() }
func userRoom(id uuid.UUID) string         { return "user:" + id.String() }

// RedisPublisher publishes room events to Redis for cross-instance broadcast.
type RedisPublisher interface {
	PublishRoomEvent(room string, event string, payload []byte) error
}

// RedisSubscriber subscribes to a room channel and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribeRoom(room string, handler func(msg WSMessage)) (cancel func(), err error)
}

// PresenceListener is notified when a user's first connection arrives or
// last connection drops on this instance. Heartbeat fires on every pong so
// the listener can keep TTL-backed online state alive for long connections.
type PresenceListener interface {
	Connected(userID uuid.UUID)
	Disconnected(userID uuid.UUID)
	Heartbeat(userID uuid.UUID)
}

// Hub maintains room -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: events are published to Redis
// and the subscriber callback performs the local broadcast once, so clients
// on every instance (including this one) see each event exactly once.
type Hub struct {
	rooms    map[string]map[string]*Client // room -> clientID -> client
	subs     map[string]func()             // cancel Redis subscription per room
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
	metrics  *metrics.Metrics
	presence PresenceListener
}

// SetPresenceListener wires presence tracking. Must be called before clients
// register.
func (h *Hub) SetPresenceListener(p PresenceListener) { h.presence = p }

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber, m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
		metrics:  m,
	}
}

// Register adds a client and joins it to its own user room so it can receive
// direct events (call invitations, signaling relays).
func (h *Hub) Register(c *Client) {
	h.join(c, userRoom(c.UserID))
	if h.metrics != nil {
		h.metrics.WSClientsActive.Inc()
	}
	if h.presence != nil && h.userConnCount(c.UserID) == 1 {
		go h.presence.Connected(c.UserID)
	}
	h.logger.Debug("client connected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.UserID.String()))
}

// Unregister removes a client from every room it joined.
func (h *Hub) Unregister(c *Client) {
	for _, room := range c.roomList() {
		h.leave(c, room)
	}
	if h.metrics != nil {
		h.metrics.WSClientsActive.Dec()
	}
	if h.presence != nil && h.userConnCount(c.UserID) == 0 {
		go h.presence.Disconnected(c.UserID)
	}
	h.logger.Debug("client disconnected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.UserID.String()))
}

// SubscribeConversation joins the client to a conversation room.
func (h *Hub) SubscribeConversation(c *Client, conversationID uuid.UUID) {
	h.join(c, conversationRoom(conversationID))
}

// UnsubscribeConversation removes the client from a conversation room.
func (h *Hub) UnsubscribeConversation(c *Client, conversationID uuid.UUID) {
	h.leave(c, conversationRoom(conversationID))
}

// SubscribeCall joins the client to a call room.
func (h *Hub) SubscribeCall(c *Client, callID uuid.UUID) {
	h.join(c, callRoom(callID))
}

// UnsubscribeCall removes the client from a call room.
func (h *Hub) UnsubscribeCall(c *Client, callID uuid.UUID) {
	h.leave(c, callRoom(callID))
}

// join adds the client to a room, starting the Redis subscription when the
// room gains its first local client.
func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeRoom(room, func(msg WSMessage) {
				h.broadcastLocal(room, msg)
			})
			if err == nil {
				h.subs[room] = cancel
			} else {
				h.logger.Warn("redis subscribe failed", zap.String("room", room), zap.Error(err))
			}
		}
	}
	h.rooms[room][c.ID] = c
	h.mu.Unlock()
	c.addRoom(room)
}

// leave removes the client from a room, cancelling the Redis subscription
// when the last local client leaves.
func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	if m, ok := h.rooms[room]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, room)
			if cancel, ok := h.subs[room]; ok {
				cancel()
				delete(h.subs, room)
			}
		}
	}
	h.mu.Unlock()
	c.removeRoom(room)
}

// broadcastLocal delivers a message to all local clients in a room.
// / Sends never block: a client with a full buffer misses the message and
// recovers via reconnect replay.
func (h *Hub) broadcastLocal(room string, msg WSMessage) {
	h.mu.RLock()
	clients := h.rooms[room]
	h.mu.RUnlock()
	for _, c := range clients {
		select {
		case c.send <- msg:
			if h.metrics != nil {
				h.metrics.WSMessagesTotal.WithLabelValues("out").Inc()
			}
		default:
			// buffer full, skip
		}
	}
}

// publish sends a message through Redis so every instance broadcasts it once.
// Without Redis it falls back to a local-only broadcast.
func (h *Hub) publish(room string, msg WSMessage) {
	if h.redis != nil {
		body, err := json.Marshal(msg)
		if err != nil {
			return
		}
		if err := h.redis.PublishRoomEvent(room, msg.Type, body); err == nil {
			return
		}
		h.logger.Warn("redis publish failed, falling back to local broadcast",
			zap.String("room", room))
	}
	h.broadcastLocal(room, msg)
}

// PublishToConversation fans an event out to a conversation's subscribers.
func (h *Hub) PublishToConversation(conversationID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.publish(conversationRoom(conversationID), WSMessage{
		Type:           event,
		ConversationID: &conversationID,
		Data:           data,
	})
}

// PublishToCall fans an event out to a call's subscribers.
func (h *Hub) PublishToCall(callID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.publish(callRoom(callID), WSMessage{
		Type:   event,
		CallID: &callID,
		Data:   data,
	})
}

// SendToUser delivers an event to every connection a user has, on any
// instance.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.publish(userRoom(userID), WSMessage{Type: event, Data: data})
}

// heartbeat forwards a connection's pong to the presence listener.
func (h *Hub) heartbeat(userID uuid.UUID) {
	if h.presence != nil {
		go h.presence.Heartbeat(userID)
	}
}

// userConnCount returns how many local connections a user currently holds.
func (h *Hub) userConnCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userRoom(userID)])
}

// RoomCount returns the number of local clients in a conversation room.
func (h *Hub) RoomCount(conversationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationRoom(conversationID)])
}
