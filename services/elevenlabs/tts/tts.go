package elevenlabs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"voicerelay/core"
)

// Config holds configuration for the ElevenLabs TTS service.
type Config struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	ModelID string `json:"model_id"`

	// Voice settings
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`

	RequestTimeout time.Duration `json:"request_timeout"`
}

// Service implements the synthesis collaborator against the ElevenLabs
// streaming HTTP endpoint. The voice is chosen per call so one service
// instance serves every persona.
type Service struct {
	config     Config
	httpClient *http.Client
	logger     *core.Logger
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// NewService creates a new ElevenLabs TTS service with the provided config.
func NewService(config Config, logger *core.Logger) (*Service, error) {
	if config.APIKey == "" {
		return nil, errors.New("ElevenLabs API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.elevenlabs.io/v1/text-to-speech"
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_multilingual_v2"
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	return &Service{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		logger:     logger,
	}, nil
}

// Synthesize converts reply text to one audio payload using the given
// voice. The endpoint streams chunked audio; chunks are concatenated
// into a single buffer before returning.
func (s *Service) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}
	if voiceID == "" {
		return nil, errors.New("voice ID cannot be empty")
	}

	body, err := sonic.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: s.config.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       s.config.Stability,
			SimilarityBoost: s.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/stream", s.config.BaseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("ElevenLabs returned %d: %s", resp.StatusCode, string(detail))
	}

	var audio bytes.Buffer
	if _, err := io.Copy(&audio, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read synthesis stream: %w", err)
	}
	if audio.Len() == 0 {
		return nil, errors.New("ElevenLabs returned no audio")
	}
	return audio.Bytes(), nil
}
