package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/recordings"
	"github.com/vaani-market/backend/internal/translation"
	"github.com/vaani-market/backend/pkg/queue"
	"github.com/vaani-market/backend/pkg/storage"
)

// Processor executes background jobs: recording uploads and transcript
// exports. One loop handles both so a single worker binary drains the queue.
type Processor struct {
	recordings   *recordings.Repository
	translations *translation.Repository
	s3           *storage.S3
	queue        *queue.Queue
	logger       *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(recRepo *recordings.Repository, trRepo *translation.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{recordings: recRepo, translations: trRepo, s3: s3, queue: q, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRecordingUpload:
		return p.processRecordingUpload(ctx, job)
	case queue.JobTypeTranscriptExport:
		return p.processTranscriptExport(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// processRecordingUpload moves a locally finished recording file to S3 and
// marks the row completed.
func (p *Processor) processRecordingUpload(ctx context.Context, job *queue.Job) error {
	var payload queue.RecordingUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.recordings.GetByID(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("recording not found: %s", payload.RecordingID)
	}
	if rec.Status == "completed" {
		p.logger.Info("recording already completed", zap.String("recording_id", rec.ID.String()))
		return nil
	}

	file, err := os.Open(payload.LocalPath)
	if err != nil {
		return fmt.Errorf("open recording file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat recording file: %w", err)
	}

	key := storage.RecordingKey(payload.CallID.String(), payload.RecordingID.String())
	s3URL, err := p.s3.UploadRecording(ctx, key, file, info.Size())
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.recordings.UpdateS3Result(ctx, payload.RecordingID, s3URL, key, info.Size(), rec.Duration); err != nil {
		return fmt.Errorf("update db: %w", err)
	}
	if err := os.Remove(payload.LocalPath); err != nil {
		p.logger.Warn("failed to remove local recording file",
			zap.String("path", payload.LocalPath), zap.Error(err))
	}

	p.logger.Info("recording upload completed",
		zap.String("recording_id", payload.RecordingID.String()),
		zap.String("s3_key", key))
	return nil
}

// processTranscriptExport bundles an ended call's translation logs into a
// JSON object in S3. Calls without logs are a no-op.
func (p *Processor) processTranscriptExport(ctx context.Context, job *queue.Job) error {
	var payload queue.TranscriptExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	logs, err := p.translations.ListBySession(ctx, payload.CallID)
	if err != nil {
		return fmt.Errorf("load translation logs: %w", err)
	}
	if len(logs) == 0 {
		return nil
	}

	body, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	key := fmt.Sprintf("transcripts/%s.json", payload.CallID)
	if _, err := p.s3.Upload(ctx, p.s3.AudioBucket(), key, "application/json",
		bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("transcript exported",
		zap.String("call_id", payload.CallID.String()),
		zap.Int("segments", len(logs)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
