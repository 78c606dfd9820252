package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope. Exactly one of
// ConversationID or CallID is set for room-scoped events; both are empty for
// direct user events.
type WSMessage struct {
	Type           string          `json:"type"`
	ConversationID *uuid.UUID      `json:"conversation_id,omitempty"`
	CallID         *uuid.UUID      `json:"call_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// TypingTracker records typing activity for conversation presence.
// Implemented by chat.Tracker.
type TypingTracker interface {
	Notify(conversationID uuid.UUID, userID string)
	Stopped(conversationID uuid.UUID, userID string)
}

// ReadMarker persists read receipts. Implemented by chat.Repository.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID uuid.UUID, userID string) error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	UserID uuid.UUID

	hub        *Hub
	dispatcher *signaling.Dispatcher
	typing     TypingTracker
	receipts   ReadMarker
	conn       *websocket.Conn
	send       chan WSMessage
	logger     *zap.Logger

	mu    sync.Mutex
	rooms map[string]struct{}
}

func (c *Client) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *Client) roomList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, dispatcher *signaling.Dispatcher, typing TypingTracker, receipts ReadMarker, logger *zap.Logger, jwtValidate func(token string) (userID string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userIDStr, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:         uuid.New().String(),
			UserID:     userID,
			hub:        hub,
			dispatcher: dispatcher,
			typing:     typing,
			receipts:   receipts,
			conn:       conn,
			send:       make(chan WSMessage, 256),
			logger:     logger,
			rooms:      make(map[string]struct{}),
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.hub.heartbeat(c.UserID)
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if c.hub.metrics != nil {
			c.hub.metrics.WSMessagesTotal.WithLabelValues("in").Inc()
		}

		switch msg.Type {
		case "subscribe":
			c.handleSubscribe(msg)
		case "unsubscribe":
			c.handleUnsubscribe(msg)
		case "typing":
			c.handleTyping(msg)
		case "read_receipt":
			c.handleReadReceipt(msg)
		case "webrtc_signal":
			c.handleSignal(msg)
		default:
			c.sendError("unknown message type: " + msg.Type)
		}
	}
}

func (c *Client) handleSubscribe(msg WSMessage) {
	switch {
	case msg.ConversationID != nil:
		c.hub.SubscribeConversation(c, *msg.ConversationID)
	case msg.CallID != nil:
		c.hub.SubscribeCall(c, *msg.CallID)
	default:
		c.sendError("subscribe requires conversation_id or call_id")
		return
	}
	// Ack so the client knows it may have missed events before this point
	// and should re-fetch history over REST.
	c.enqueue(WSMessage{
		Type:           "subscribed",
		ConversationID: msg.ConversationID,
		CallID:         msg.CallID,
	})
}

func (c *Client) handleUnsubscribe(msg WSMessage) {
	switch {
	case msg.ConversationID != nil:
		c.hub.UnsubscribeConversation(c, *msg.ConversationID)
	case msg.CallID != nil:
		c.hub.UnsubscribeCall(c, *msg.CallID)
	default:
		c.sendError("unsubscribe requires conversation_id or call_id")
	}
}

func (c *Client) handleTyping(msg WSMessage) {
	if msg.ConversationID == nil {
		c.sendError("typing requires conversation_id")
		return
	}
	var payload struct {
		Stopped bool `json:"stopped"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("invalid typing payload")
			return
		}
	}
	if c.typing != nil {
		if payload.Stopped {
			c.typing.Stopped(*msg.ConversationID, c.UserID.String())
		} else {
			c.typing.Notify(*msg.ConversationID, c.UserID.String())
		}
	}
	c.hub.PublishToConversation(*msg.ConversationID, "typing_indicator", map[string]interface{}{
		"user_id": c.UserID.String(),
		"stopped": payload.Stopped,
	})
}

func (c *Client) handleReadReceipt(msg WSMessage) {
	if msg.ConversationID == nil {
		c.sendError("read_receipt requires conversation_id")
		return
	}
	var payload struct {
		MessageID uuid.UUID `json:"message_id"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.MessageID == uuid.Nil {
		c.sendError("invalid read_receipt payload")
		return
	}
	if c.receipts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.receipts.MarkRead(ctx, payload.MessageID, c.UserID.String()); err != nil {
			c.logger.Warn("failed to persist read receipt", zap.Error(err))
			return
		}
	}
	c.hub.PublishToConversation(*msg.ConversationID, "read_receipt", map[string]interface{}{
		"message_id": payload.MessageID,
		"user_id":    c.UserID.String(),
	})
}

func (c *Client) handleSignal(msg WSMessage) {
	if msg.CallID == nil {
		c.sendError("webrtc_signal requires call_id")
		return
	}
	var env signaling.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		c.sendError("invalid signal envelope")
		return
	}
	env.SessionID = *msg.CallID
	env.SenderID = c.UserID.String()
	if c.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.dispatcher.Dispatch(ctx, env); err != nil {
		c.logger.Warn("signal dispatch failed",
			zap.String("call_id", msg.CallID.String()),
			zap.String("kind", string(env.Kind)),
			zap.Error(err))
		c.sendError("signal rejected: " + err.Error())
	}
}

func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	c.enqueue(WSMessage{Type: "error", Data: data})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
