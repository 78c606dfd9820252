package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Synthesizer turns translated text into speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// AudioStore persists synthesized audio and returns a reference (URL) that
// clients can fetch. Implemented by pkg/storage.S3Client.
type AudioStore interface {
	UploadAudio(ctx context.Context, key string, audio []byte) (string, error)
}

// HTTPSynthesizer calls an external text-to-speech backend over HTTP.
type HTTPSynthesizer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSynthesizer creates a synthesizer for the backend at baseURL.
func NewHTTPSynthesizer(baseURL string, timeout time.Duration) *HTTPSynthesizer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSynthesizer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Synthesize posts text to the backend's /voice/text-to-speech endpoint and
// returns the raw audio bytes.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, Language: language})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/voice/text-to-speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts backend returned %d: %s", resp.StatusCode, string(b))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	return audio, nil
}
