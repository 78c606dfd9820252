package models

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptSegment is a recognized speech fragment produced by the speech
// recognizer. Interim segments (IsFinal=false) update the caller's UI only;
// only final segments are translated.
type TranscriptSegment struct {
	SessionID      uuid.UUID `json:"session_id"`
	SourceLanguage string    `json:"source_language"`
	Text           string    `json:"text"`
	IsFinal        bool      `json:"is_final"`
	RecognizedAt   time.Time `json:"recognized_at"`
}

// TranslationResult is the translated counterpart of one final segment.
type TranslationResult struct {
	SessionID      uuid.UUID `json:"session_id"`
	TargetLanguage string    `json:"target_language"`
	TranslatedText string    `json:"translated_text"`
	AudioRef       string    `json:"audio_ref,omitempty"` // S3 URL of synthesized speech, if TTS ran
}

// TranslationLog is a persisted record of one translation for auditing and analytics.
type TranslationLog struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	AudioRef       string    `json:"audio_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
