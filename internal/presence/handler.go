package presence

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/pkg/response"
)

// Handler serves presence lookups.
type Handler struct {
	tracker *Tracker
	repo    *Repository
	logger  *zap.Logger
}

// NewHandler creates a presence handler.
func NewHandler(tracker *Tracker, repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{tracker: tracker, repo: repo, logger: logger}
}

// Get handles GET /users/:id/presence.
func (h *Handler) Get(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	online, err := h.tracker.IsOnline(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("presence lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
	}

	var lastSeen *string
	if ts, err := h.repo.LastSeen(c.Request.Context(), userID); err == nil && ts != nil {
		s := ts.UTC().Format(time.RFC3339)
		lastSeen = &s
	}

	response.OK(c, gin.H{
		"user_id":   userID,
		"online":    online,
		"last_seen": lastSeen,
	})
}
