package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording status values.
const (
	RecordingStatusRecording  = "recording"
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

// Recording is a call recording tracked from start through S3 upload.
type Recording struct {
	ID        uuid.UUID `json:"id"`
	CallID    uuid.UUID `json:"call_id"`
	LocalPath string    `json:"-"`
	S3URL     string    `json:"s3_url,omitempty"`
	S3Key     string    `json:"s3_key,omitempty"`
	Duration  int       `json:"duration"`
	FileSize  int64     `json:"file_size"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
