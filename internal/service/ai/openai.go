package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/config"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
)

// DefaultOpenAIBaseURL points at Groq's OpenAI-compatible endpoint.
const DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"

// OpenAIClient is a Completer for any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	prompts     Prompts
	trimmer     *HistoryTrimmer
	log         *logrus.Entry
}

var _ Completer = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg config.AIConfig, trimmer *HistoryTrimmer, log *logrus.Entry) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI_API_KEY is required for the openai provider")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("AI_MODEL is required for the openai provider")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = DefaultOpenAIBaseURL
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		prompts:     DefaultPrompts(),
		trimmer:     trimmer,
		log:         log,
	}, nil
}

func (c *OpenAIClient) GenerateReply(ctx context.Context, history []chat.Message) (string, error) {
	trimmed := c.trimmer.Trim(history)

	messages := make([]openai.ChatCompletionMessage, 0, len(trimmed)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: c.prompts.Assistant,
	})
	for _, msg := range trimmed {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    parseRole(msg.Role),
			Content: msg.Content,
		})
	}

	content, err := c.complete(ctx, messages)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyCompletion
	}

	c.log.WithFields(logrus.Fields{
		"history": len(history),
		"length":  len(content),
	}).Debug("generated reply")
	return content, nil
}

func (c *OpenAIClient) GenerateTitle(ctx context.Context, request string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: c.prompts.Title},
		{Role: openai.ChatMessageRoleUser, Content: request},
	})
}

func (c *OpenAIClient) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func parseRole(role chat.Role) string {
	if role == chat.RoleAssistant {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
