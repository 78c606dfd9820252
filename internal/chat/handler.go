package chat

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/middleware"
	"github.com/vaani-market/backend/internal/models"
	"github.com/vaani-market/backend/pkg/response"
)

// Broadcaster fans chat events out to conversation subscribers, locally and
// across instances. Implemented by realtime.Hub.
type Broadcaster interface {
	PublishToConversation(conversationID uuid.UUID, event string, payload interface{})
}

// SendMessageRequest is the body for POST /conversations/:id/messages.
type SendMessageRequest struct {
	Body     string `json:"body" binding:"required"`
	Language string `json:"language"`
}

// OpenConversationRequest is the body for POST /conversations.
type OpenConversationRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

// Handler handles chat HTTP endpoints.
type Handler struct {
	repo   *Repository
	hub    Broadcaster
	typing *Tracker
	logger *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(repo *Repository, hub Broadcaster, typing *Tracker, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, hub: hub, typing: typing, logger: logger}
}

// ListConversations handles GET /conversations.
func (h *Handler) ListConversations(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID).String()
	list, err := h.repo.ListConversations(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list conversations")
		return
	}
	type withUnread struct {
		models.Conversation
		UnreadCount int `json:"unread_count"`
	}
	out := make([]withUnread, 0, len(list))
	for _, conv := range list {
		n, err := h.repo.UnreadCount(c.Request.Context(), conv.ID, userID)
		if err != nil {
			response.Internal(c, "failed to count unread messages")
			return
		}
		out = append(out, withUnread{Conversation: conv, UnreadCount: n})
	}
	response.OK(c, gin.H{"conversations": out})
}

// OpenConversation handles POST /conversations (get or create with a peer).
func (h *Handler) OpenConversation(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID).String()
	var req OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.PeerID == userID {
		response.BadRequest(c, "cannot open a conversation with yourself")
		return
	}
	conv, err := h.repo.GetOrCreateConversation(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		response.Internal(c, "failed to open conversation")
		return
	}
	response.OK(c, conv)
}

// ListMessages handles GET /conversations/:id/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid conversation id")
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	list, err := h.repo.ListMessages(c.Request.Context(), conversationID, limit, offset)
	if err != nil {
		response.Internal(c, "failed to list messages")
		return
	}
	response.OK(c, gin.H{"messages": list})
}

// SendMessage handles POST /conversations/:id/messages.
func (h *Handler) SendMessage(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid conversation id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID).String()

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	conv, err := h.repo.GetConversation(c.Request.Context(), conversationID)
	if err != nil || conv == nil {
		response.NotFound(c, "conversation not found")
		return
	}

	msg := &models.ChatMessage{
		ConversationID: conversationID,
		SenderID:       userID,
		Body:           req.Body,
		Language:       req.Language,
	}
	if err := h.repo.CreateMessage(c.Request.Context(), msg); err != nil {
		response.Internal(c, "failed to send message")
		return
	}

	// Sending a message ends the sender's typing burst.
	h.typing.Stopped(conversationID, userID)

	h.hub.PublishToConversation(conversationID, "new_message", msg)
	response.Created(c, msg)
}

// MarkRead handles POST /conversations/:id/messages/:messageId/read.
func (h *Handler) MarkRead(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid conversation id")
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID).String()

	if err := h.repo.MarkRead(c.Request.Context(), messageID, userID); err != nil {
		response.Internal(c, "failed to mark message read")
		return
	}
	h.hub.PublishToConversation(conversationID, "read_receipt", gin.H{
		"conversation_id": conversationID, "message_id": messageID, "user_id": userID,
	})
	response.OK(c, gin.H{"message_id": messageID, "read": true})
}

// TypingUsers handles GET /conversations/:id/typing.
func (h *Handler) TypingUsers(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid conversation id")
		return
	}
	response.OK(c, gin.H{"typing": h.typing.TypingUsers(conversationID)})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, ch := range v {
		if ch < '0' || ch > '9' {
			return fallback
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
