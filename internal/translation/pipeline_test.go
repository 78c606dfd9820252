package translation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/models"
)

type stubTranslator struct {
	mu         sync.Mutex
	calls      int
	dictionary map[string]string
	err        error
	onCall     func() // runs inside Translate, before returning
}

func (s *stubTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.onCall != nil {
		s.onCall()
	}
	if s.err != nil {
		return "", s.err
	}
	if out, ok := s.dictionary[text]; ok {
		return out, nil
	}
	return "[" + targetLang + "] " + text, nil
}

func (s *stubTranslator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSynthesizer struct {
	audio []byte
	err   error
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	return s.audio, s.err
}

type stubAudioStore struct {
	mu   sync.Mutex
	keys []string
}

func (s *stubAudioStore) UploadAudio(ctx context.Context, key string, audio []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return "https://cdn.example.com/" + key, nil
}

type stubLogStore struct {
	mu   sync.Mutex
	logs []*models.TranslationLog
}

func (s *stubLogStore) SaveTranslation(ctx context.Context, log *models.TranslationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

type stubGate struct {
	mu      sync.Mutex
	allowed map[uuid.UUID]bool
}

func (g *stubGate) TranslationAllowed(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowed[id]
}

func (g *stubGate) set(id uuid.UUID, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[id] = ok
}

type resultCollector struct {
	mu      sync.Mutex
	results []models.TranslationResult
}

func (c *resultCollector) sink(result models.TranslationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

func (c *resultCollector) all() []models.TranslationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TranslationResult, len(c.results))
	copy(out, c.results)
	return out
}

func finalSegment(sessionID uuid.UUID, text string) models.TranscriptSegment {
	return models.TranscriptSegment{
		SessionID:      sessionID,
		SourceLanguage: "hi",
		Text:           text,
		IsFinal:        true,
	}
}

func TestPipelineTranslatesFinalSegment(t *testing.T) {
	sessionID := uuid.New()
	gate := &stubGate{allowed: map[uuid.UUID]bool{sessionID: true}}
	translator := &stubTranslator{dictionary: map[string]string{"नमस्ते": "hello"}}
	collector := &resultCollector{}
	logs := &stubLogStore{}

	p := NewPipeline(translator, nil, nil, gate, collector.sink, logs, nil, zap.NewNop())
	p.Submit(context.Background(), finalSegment(sessionID, "नमस्ते"), "en", false)
	p.Wait()

	results := collector.all()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].TranslatedText != "hello" {
		t.Errorf("translated text = %q, want %q", results[0].TranslatedText, "hello")
	}
	if results[0].TargetLanguage != "en" {
		t.Errorf("target language = %q, want en", results[0].TargetLanguage)
	}
	if results[0].AudioRef != "" {
		t.Errorf("unexpected audio ref %q", results[0].AudioRef)
	}
	if len(logs.logs) != 1 {
		t.Fatalf("expected 1 translation log, got %d", len(logs.logs))
	}
	if logs.logs[0].SourceText != "नमस्ते" {
		t.Errorf("log source text = %q", logs.logs[0].SourceText)
	}
}

func TestPipelineSkipsInterimSegments(t *testing.T) {
	sessionID := uuid.New()
	gate := &stubGate{allowed: map[uuid.UUID]bool{sessionID: true}}
	translator := &stubTranslator{}
	collector := &resultCollector{}

	p := NewPipeline(translator, nil, nil, gate, collector.sink, nil, nil, zap.NewNop())
	seg := finalSegment(sessionID, "partial speech")
	seg.IsFinal = false
	p.Submit(context.Background(), seg, "en", false)
	p.Wait()

	if translator.callCount() != 0 {
		t.Errorf("interim segment reached the translator")
	}
	if len(collector.all()) != 0 {
		t.Errorf("interim segment produced a result")
	}
}

func TestPipelineSkipsWhenNotAllowed(t *testing.T) {
	sessionID := uuid.New()
	gate := &stubGate{allowed: map[uuid.UUID]bool{}}
	translator := &stubTranslator{}
	collector := &resultCollector{}

	p := NewPipeline(translator, nil, nil, gate, collector.sink, nil, nil, zap.NewNop())
	p.Submit(context.Background(), finalSegment(sessionID, "hello"), "hi", false)
	p.Wait()

	if translator.callCount() != 0 {
		t.Errorf("gated segment reached the translator")
	}
}

func TestPipelineBackendFailureIsNonFatal(t *testing.T) {
	sessionID := uuid.New()
	gate := &stubGate{allowed: map[uuid.UUID]bool{sessionID: true}}
	translator := &stubTranslator{err: errors.New("backend down")}
	collector := &resultCollector{}

	p := NewPipeline(translator, nil, nil, gate, collector.sink, nil, nil, zap.NewNop())
	p.Submit(context.Background(), finalSegment(sessionID, "hello"), "hi", false)
	p.Wait()

	if len(collector.all()) != 0 {
		t.Errorf("failed translation produced a result")
	}
}

func TestPipelineDropsResultWhenSessionEndsMidFlight(t *testing.T) {
	sessionID := uuid.New()
	gate := &stubGate{allowed: map[uuid.UUID]bool{sessionID: true}}
	translator := &stubTranslator{}
	translator.onCall = func() { gate.set(sessionID, false) }
	collector := &resultCollector{}

	p := NewPipeline(translator, nil, nil, gate, collector.sink, nil, nil, zap.NewNop())
	p.Submit(context.Background(), finalSegment(sessionID, "hello"), "en", false)
	p.Wait()

	if translator.callCount() != 1 {
		t.Fatalf("expected translator to run once, got %d", translator.callCount())
	}
	if len(collector.all()) != 0 {
		t.Errorf("result delivered after session became ineligible")
	}
}

func TestPipelineSynthesizesVoice(t *testing.T) {
	sessionID := uuid.New()
	gate := &stubGate{allowed: map[uuid.UUID]bool{sessionID: true}}
	translator := &stubTranslator{}
	tts := &stubSynthesizer{audio: []byte{0xff, 0xfb}}
	store := &stubAudioStore{}
	collector := &resultCollector{}

	p := NewPipeline(translator, tts, store, gate, collector.sink, nil, nil, zap.NewNop())
	p.Submit(context.Background(), finalSegment(sessionID, "hello"), "ta", true)
	p.Wait()

	results := collector.all()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].AudioRef == "" {
		t.Errorf("expected an audio ref on the result")
	}
	if len(store.keys) != 1 {
		t.Errorf("expected 1 uploaded audio object, got %d", len(store.keys))
	}
}

func TestPipelineVoiceFailureStillDeliversText(t *testing.T) {
	sessionID := uuid.New()
	gate := &stubGate{allowed: map[uuid.UUID]bool{sessionID: true}}
	translator := &stubTranslator{dictionary: map[string]string{"hi": "வணக்கம்"}}
	tts := &stubSynthesizer{err: errors.New("tts down")}
	collector := &resultCollector{}

	p := NewPipeline(translator, tts, &stubAudioStore{}, gate, collector.sink, nil, nil, zap.NewNop())
	p.Submit(context.Background(), finalSegment(sessionID, "hi"), "ta", true)
	p.Wait()

	results := collector.all()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].TranslatedText != "வணக்கம்" {
		t.Errorf("translated text = %q", results[0].TranslatedText)
	}
	if results[0].AudioRef != "" {
		t.Errorf("audio ref set despite synthesis failure")
	}
}
