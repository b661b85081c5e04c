package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"voicerelay/core"
)

// Config holds the configuration for the OpenAI completion service.
type Config struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// Service implements the completion collaborator using OpenAI chat
// completions. Each turn is a single request/response call; no streaming.
type Service struct {
	client *openai.Client
	config Config
	logger *core.Logger
}

// NewService creates a new OpenAI completion service.
func NewService(config Config, logger *core.Logger) (*Service, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT3Dot5Turbo
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

// Complete requests one chat completion for the assembled context and
// returns the assistant text.
func (s *Service) Complete(ctx context.Context, messages []core.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    convertMessages(messages),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// convertMessages converts core messages to OpenAI messages.
func convertMessages(messages []core.Message) []openai.ChatCompletionMessage {
	openAIMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openAIMessages = append(openAIMessages, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Content,
		})
	}
	return openAIMessages
}

// convertRole converts a core role to an OpenAI role.
func convertRole(role core.MessageRole) string {
	switch role {
	case core.MessageRoleUser:
		return openai.ChatMessageRoleUser
	case core.MessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.MessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
