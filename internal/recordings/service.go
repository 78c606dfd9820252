package recordings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/models"
	"github.com/vaani-market/backend/pkg/queue"
)

var (
	// ErrCallNotConnected is returned when recording is requested for a call
	// that is not in the connected state.
	ErrCallNotConnected = errors.New("call is not connected")
	// ErrAlreadyRecording is returned when the call already has an active recording.
	ErrAlreadyRecording = errors.New("call is already being recorded")
	// ErrNotRecording is returned when stop is requested with no active recording.
	ErrNotRecording = errors.New("call is not being recorded")
)

// CallRegistry exposes active session lookups. Implemented by calls.Registry.
type CallRegistry interface {
	Get(id uuid.UUID) (models.Session, error)
}

// Notifier pushes recording status events to call participants.
// Implemented by realtime.Hub.
type Notifier interface {
	PublishToCall(callID uuid.UUID, event string, payload interface{})
}

// Enqueuer schedules the S3 upload once a recording stops.
// Implemented by queue.Queue.
type Enqueuer interface {
	EnqueueRecordingUpload(ctx context.Context, payload queue.RecordingUploadPayload) error
}

// Service manages the recording lifecycle: start during a connected call,
// stop into processing, then hand the file to the worker for upload.
type Service struct {
	repo      *Repository
	registry  CallRegistry
	hub       Notifier
	jobs      Enqueuer
	outputDir string
	logger    *zap.Logger
}

// NewService creates a recording service.
func NewService(repo *Repository, registry CallRegistry, hub Notifier, jobs Enqueuer, outputDir string, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		registry:  registry,
		hub:       hub,
		jobs:      jobs,
		outputDir: outputDir,
		logger:    logger,
	}
}

// Start begins recording a connected call.
func (s *Service) Start(ctx context.Context, callID uuid.UUID, userID string) (*models.Recording, error) {
	session, err := s.registry.Get(callID)
	if err != nil {
		return nil, ErrCallNotConnected
	}
	if session.State != "connected" {
		return nil, ErrCallNotConnected
	}
	if session.Caller.ID != userID && session.Callee.ID != userID {
		return nil, fmt.Errorf("user %s is not a participant", userID)
	}
	if active, err := s.repo.FindActiveByCall(ctx, callID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrAlreadyRecording
	}

	rec := &models.Recording{
		CallID:    callID,
		LocalPath: filepath.Join(s.outputDir, callID.String()+"-"+time.Now().Format("20060102T150405")+".mp4"),
		Status:    models.RecordingStatusRecording,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	s.notify(callID, rec)
	s.logger.Info("recording started",
		zap.String("call_id", callID.String()),
		zap.String("recording_id", rec.ID.String()))
	return rec, nil
}

// Stop finishes the call's active recording and queues the upload.
func (s *Service) Stop(ctx context.Context, callID uuid.UUID) (*models.Recording, error) {
	rec, err := s.repo.FindActiveByCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotRecording
	}
	if err := s.repo.UpdateStatus(ctx, rec.ID, models.RecordingStatusProcessing); err != nil {
		return nil, fmt.Errorf("update recording status: %w", err)
	}
	rec.Status = models.RecordingStatusProcessing

	if s.jobs != nil {
		if err := s.jobs.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
			RecordingID: rec.ID,
			CallID:      callID,
			LocalPath:   rec.LocalPath,
		}); err != nil {
			s.logger.Error("failed to enqueue recording upload",
				zap.String("recording_id", rec.ID.String()),
				zap.Error(err))
		}
	}
	s.notify(callID, rec)
	s.logger.Info("recording stopped",
		zap.String("call_id", callID.String()),
		zap.String("recording_id", rec.ID.String()))
	return rec, nil
}

// StopForEndedCall stops any active recording when the call terminates.
func (s *Service) StopForEndedCall(callID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Stop(ctx, callID); err != nil && !errors.Is(err, ErrNotRecording) {
		s.logger.Warn("failed to stop recording for ended call",
			zap.String("call_id", callID.String()),
			zap.Error(err))
	}
}

func (s *Service) notify(callID uuid.UUID, rec *models.Recording) {
	if s.hub == nil {
		return
	}
	s.hub.PublishToCall(callID, "recording_status", map[string]interface{}{
		"recording_id": rec.ID,
		"status":       rec.Status,
	})
}
