package calls

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/middleware"
	"github.com/vaani-market/backend/internal/models"
	"github.com/vaani-market/backend/internal/signaling"
	"github.com/vaani-market/backend/pkg/response"
)

// RecordingController starts and stops call recordings.
// Implemented by recordings.Service.
type RecordingController interface {
	Start(ctx context.Context, callID uuid.UUID, userID string) (*models.Recording, error)
	Stop(ctx context.Context, callID uuid.UUID) (*models.Recording, error)
}

// InitiateRequest is the body for POST /calls/initiate.
type InitiateRequest struct {
	CalleeID           uuid.UUID `json:"callee_id" binding:"required"`
	CallKind           string    `json:"call_kind" binding:"required,oneof=voice video"`
	TranslationEnabled bool      `json:"translation_enabled"`
}

// AnswerRequest is the body for POST /calls/answer.
type AnswerRequest struct {
	CallID uuid.UUID `json:"call_id" binding:"required"`
	Accept *bool     `json:"accept" binding:"required"`
}

// EndRequest is the body for POST /calls/:id/end.
type EndRequest struct {
	Reason string `json:"reason"`
}

// TranslateRequest is the body for POST /calls/translate. SourceLanguage may
// be omitted; it then defaults to the preferred language the caller's token
// asserts.
type TranslateRequest struct {
	CallID         uuid.UUID `json:"call_id" binding:"required"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Text           string    `json:"text" binding:"required"`
	IsFinal        bool      `json:"is_final"`
}

// RecordRequest is the body for POST /calls/record.
type RecordRequest struct {
	CallID uuid.UUID `json:"call_id" binding:"required"`
	Action string    `json:"action" binding:"required,oneof=start stop"`
}

// Handler handles call HTTP endpoints.
type Handler struct {
	service    *Service
	repo       *Repository
	dispatcher *signaling.Dispatcher
	recordings RecordingController
	logger     *zap.Logger
}

// NewHandler creates a call handler. recordings may be nil when recording is
// disabled.
func NewHandler(service *Service, repo *Repository, dispatcher *signaling.Dispatcher, recordings RecordingController, logger *zap.Logger) *Handler {
	return &Handler{service: service, repo: repo, dispatcher: dispatcher, recordings: recordings, logger: logger}
}

// Initiate handles POST /calls/initiate.
func (h *Handler) Initiate(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	session, err := h.service.Initiate(c.Request.Context(), userID, req.CalleeID, models.CallKind(req.CallKind), req.TranslationEnabled)
	if err != nil {
		h.logger.Warn("failed to initiate call", zap.Error(err))
		response.BadRequest(c, "failed to initiate call")
		return
	}
	response.Created(c, gin.H{"call_id": session.ID, "state": session.State})
}

// Answer handles POST /calls/answer.
func (h *Handler) Answer(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	session, err := h.service.Answer(c.Request.Context(), req.CallID, userID, *req.Accept)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, "call not found")
	case errors.Is(err, ErrNotParticipant):
		response.Forbidden(c, "not the callee of this call")
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionTerminal):
		response.Conflict(c, "call cannot be answered in its current state")
	case err != nil:
		response.Internal(c, "failed to answer call")
	default:
		response.OK(c, gin.H{"call_id": session.ID, "state": session.State})
	}
}

// End handles POST /calls/:id/end.
func (h *Handler) End(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid call id")
		return
	}
	var req EndRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	session, err := h.service.End(c.Request.Context(), callID, userID, req.Reason)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		// Already ended and archived; ending twice is not an error.
		response.OK(c, gin.H{"call_id": callID, "state": StateEnded.String()})
	case errors.Is(err, ErrNotParticipant):
		response.Forbidden(c, "not a participant of this call")
	case err != nil:
		response.Internal(c, "failed to end call")
	default:
		response.OK(c, gin.H{"call_id": session.ID, "state": session.State})
	}
}

// Signal handles POST /calls/:id/signal: one signaling envelope relayed
// through the dispatcher. Duplicates and late signals are accepted and
// silently dropped.
func (h *Handler) Signal(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid call id")
		return
	}
	var env signaling.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		response.BadRequest(c, "invalid envelope: "+err.Error())
		return
	}
	env.SessionID = callID
	env.SenderID = userID.String()
	if env.SentAt.IsZero() {
		env.SentAt = time.Now()
	}
	if err := h.dispatcher.Dispatch(c.Request.Context(), env); err != nil {
		response.BadRequest(c, "signal rejected: "+err.Error())
		return
	}
	c.Status(202)
}

// Translate handles POST /calls/translate.
func (h *Handler) Translate(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.SourceLanguage == "" {
		req.SourceLanguage = c.GetString(middleware.ContextUserLanguage)
	}
	if req.SourceLanguage == "" {
		response.BadRequest(c, "source_language is required")
		return
	}
	err := h.service.RequestTranslation(req.CallID, userID.String(), signaling.TranslationRequestPayload{
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Text:           req.Text,
		IsFinal:        req.IsFinal,
	}, time.Now())
	if errors.Is(err, ErrSessionNotFound) {
		response.NotFound(c, "call not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to schedule translation")
		return
	}
	c.Status(202)
}

// Record handles POST /calls/record.
func (h *Handler) Record(c *gin.Context) {
	if h.recordings == nil {
		response.ServiceUnavailable(c, "recording is not enabled")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	var rec *models.Recording
	var err error
	if req.Action == "start" {
		rec, err = h.recordings.Start(c.Request.Context(), req.CallID, userID.String())
	} else {
		rec, err = h.recordings.Stop(c.Request.Context(), req.CallID)
	}
	if err != nil {
		h.logger.Warn("recording action failed",
			zap.String("call_id", req.CallID.String()),
			zap.String("action", req.Action),
			zap.Error(err))
		response.BadRequest(c, "recording "+req.Action+" failed")
		return
	}
	response.OK(c, rec)
}

// History handles GET /calls.
func (h *Handler) History(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	records, err := h.repo.ListByUser(c.Request.Context(), userID.String(), limit, offset)
	if err != nil {
		response.Internal(c, "failed to list call history")
		return
	}
	response.OK(c, gin.H{"calls": records})
}

// GetCall handles GET /calls/:id. Active sessions come from the registry,
// ended calls from the archive.
func (h *Handler) GetCall(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid call id")
		return
	}
	if session, err := h.service.Get(callID); err == nil {
		if session.Caller.ID != userID.String() && session.Callee.ID != userID.String() {
			response.Forbidden(c, "not a participant of this call")
			return
		}
		response.OK(c, session)
		return
	}
	rec, err := h.repo.GetRecord(c.Request.Context(), callID)
	if err != nil {
		response.Internal(c, "failed to load call")
		return
	}
	if rec == nil {
		response.NotFound(c, "call not found")
		return
	}
	if rec.CallerID != userID.String() && rec.CalleeID != userID.String() {
		response.Forbidden(c, "not a participant of this call")
		return
	}
	response.OK(c, rec)
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
