package recordings

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/pkg/response"
	"github.com/vaani-market/backend/pkg/storage"
)

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates a recordings handler. s3 may be nil (download links disabled).
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// ListByCall handles GET /calls/:id/recordings.
func (h *Handler) ListByCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid call id")
		return
	}
	list, err := h.repo.ListByCall(c.Request.Context(), callID)
	if err != nil {
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, gin.H{"recordings": list})
}

// Get handles GET /recordings/:id, returning a presigned download URL for
// completed recordings.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load recording")
		return
	}
	if rec == nil {
		response.NotFound(c, "recording not found")
		return
	}

	var downloadURL string
	if h.s3 != nil && rec.S3Key != "" {
		downloadURL, err = h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.RecordingsBucket(), rec.S3Key, h.s3.PresignExpire())
		if err != nil {
			h.logger.Warn("failed to presign recording url", zap.String("recording_id", id.String()), zap.Error(err))
		}
	}
	response.OK(c, gin.H{"recording": rec, "download_url": downloadURL})
}
