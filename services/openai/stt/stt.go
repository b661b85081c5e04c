package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"voicerelay/core"
)

// Config holds configuration options for Whisper transcription.
type Config struct {
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

// DefaultConfig returns a default configuration for Whisper transcription.
func DefaultConfig() Config {
	return Config{
		Model: openai.Whisper1,
	}
}

// Service implements the transcription collaborator using the OpenAI
// Whisper API. One utterance in, one transcript out.
type Service struct {
	client *openai.Client
	config Config
	logger *core.Logger
}

// NewService creates a new Whisper transcription service.
func NewService(config Config, logger *core.Logger) (*Service, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Service{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}, nil
}

// Transcribe converts one canonical-form WAV utterance to text. Returns
// a not-understood turn error when the service recognizes no speech, so
// callers can answer without treating it as an outage.
func (s *Service) Transcribe(ctx context.Context, wav []byte) (string, error) {
	req := openai.AudioRequest{
		Model:    s.config.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: s.config.Language,
	}

	resp, err := s.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", core.NewTurnError(core.FailureNotUnderstood, errors.New("empty transcript"))
	}
	return text, nil
}
