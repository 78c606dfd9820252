package translation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/metrics"
	"github.com/vaani-market/backend/internal/models"
)

// Gate decides whether translation may run for a session. Implemented by
// calls.Registry: translation is allowed only while the session has
// translation enabled and is connected.
type Gate interface {
	TranslationAllowed(id uuid.UUID) bool
}

// Sink receives completed translation results for delivery to the session's
// participants.
type Sink func(result models.TranslationResult)

// LogStore persists translation logs for auditing.
type LogStore interface {
	SaveTranslation(ctx context.Context, log *models.TranslationLog) error
}

// Pipeline turns final transcript segments into translated text (and
// optionally synthesized speech) and hands results to the delivery sink.
// Submissions are fire and forget: a failed translation never affects the
// call it belongs to.
type Pipeline struct {
	translator Translator
	tts        Synthesizer // nil disables voice synthesis
	audio      AudioStore  // nil disables audio upload
	gate       Gate
	deliver    Sink
	logs       LogStore // nil disables audit logging
	metrics    *metrics.Metrics
	logger     *zap.Logger

	wg sync.WaitGroup
}

// NewPipeline creates a translation pipeline. tts, audio and logs may be nil.
func NewPipeline(translator Translator, tts Synthesizer, audio AudioStore, gate Gate, deliver Sink, logs LogStore, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		translator: translator,
		tts:        tts,
		audio:      audio,
		gate:       gate,
		deliver:    deliver,
		logs:       logs,
		metrics:    m,
		logger:     logger,
	}
}

// Submit schedules translation of one transcript segment into targetLang.
// It returns immediately. Interim segments and segments for sessions where
// translation is not allowed are silently skipped. withVoice additionally
// synthesizes speech for the translated text.
//
// ctx should be the session's translation context so that ending the call
// cancels in-flight requests.
func (p *Pipeline) Submit(ctx context.Context, segment models.TranscriptSegment, targetLang string, withVoice bool) {
	if !segment.IsFinal {
		return
	}
	if !p.gate.TranslationAllowed(segment.SessionID) {
		p.logger.Debug("translation skipped, session not eligible",
			zap.String("session_id", segment.SessionID.String()))
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.process(ctx, segment, targetLang, withVoice); err != nil {
			if ctx.Err() != nil {
				return // session ended, cancellation is not a failure
			}
			p.logger.Warn("translation failed",
				zap.String("session_id", segment.SessionID.String()),
				zap.String("target_language", targetLang),
				zap.Error(err))
		}
	}()
}

func (p *Pipeline) process(ctx context.Context, segment models.TranscriptSegment, targetLang string, withVoice bool) error {
	start := time.Now()
	text, err := p.translator.Translate(ctx, segment.Text, segment.SourceLanguage, targetLang)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordTranslationFailure("translate")
		}
		return fmt.Errorf("translate: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordTranslation(targetLang, time.Since(start).Seconds())
	}

	result := models.TranslationResult{
		SessionID:      segment.SessionID,
		TargetLanguage: targetLang,
		TranslatedText: text,
	}

	if withVoice && p.tts != nil {
		ref, err := p.synthesize(ctx, segment.SessionID, text, targetLang)
		if err != nil {
			// Text still goes out; only the voice leg failed.
			if p.metrics != nil {
				p.metrics.RecordTranslationFailure("tts")
			}
			p.logger.Warn("voice synthesis failed",
				zap.String("session_id", segment.SessionID.String()),
				zap.Error(err))
		} else {
			result.AudioRef = ref
		}
	}

	// The session may have ended while the backend was working.
	if !p.gate.TranslationAllowed(segment.SessionID) {
		return nil
	}
	p.deliver(result)

	if p.logs != nil {
		entry := &models.TranslationLog{
			SessionID:      segment.SessionID,
			SourceLanguage: segment.SourceLanguage,
			TargetLanguage: targetLang,
			SourceText:     segment.Text,
			TranslatedText: text,
			AudioRef:       result.AudioRef,
		}
		if err := p.logs.SaveTranslation(ctx, entry); err != nil {
			p.logger.Warn("failed to persist translation log", zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, sessionID uuid.UUID, text, language string) (string, error) {
	start := time.Now()
	audio, err := p.tts.Synthesize(ctx, text, language)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	if p.metrics != nil {
		p.metrics.TTSLatency.Observe(time.Since(start).Seconds())
	}
	if p.audio == nil {
		return "", nil
	}
	key := fmt.Sprintf("translations/%s/%s.mp3", sessionID, uuid.New())
	ref, err := p.audio.UploadAudio(ctx, key, audio)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	return ref, nil
}

// Wait blocks until all in-flight translations finish. Used on shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
