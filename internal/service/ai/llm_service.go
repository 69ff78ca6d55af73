package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/config"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
)

const defaultTokenizerTimeout = 10 * time.Second

// ErrEmptyCompletion is returned when the model answers with blank content.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Service is the eino-backed Completer. Replies and titles run through separate chains over
// the same chat model.
type Service struct {
	replyChain compose.Runnable[map[string]any, *schema.Message]
	titleChain compose.Runnable[map[string]any, *schema.Message]
	prompts    Prompts
	trimmer    *HistoryTrimmer
	log        *logrus.Entry
}

var _ Completer = (*Service)(nil)

// New builds the completer selected by cfg.Provider.
func New(ctx context.Context, cfg config.AIConfig, log *logrus.Entry) (Completer, error) {
	trimmer := newTrimmer(ctx, cfg, log)

	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		svc, err := NewService(ctx, chatModel, trimmer, log)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case config.ProviderOpenAI:
		client, err := NewOpenAIClient(cfg, trimmer, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

// newTrimmer loads the token encoding at startup. When it is not ready within
// cfg.TokenizerTimeout, trimming is disabled rather than retried on the request path.
func newTrimmer(ctx context.Context, cfg config.AIConfig, log *logrus.Entry) *HistoryTrimmer {
	if cfg.HistoryTokenLimit <= 0 {
		return nil
	}

	timeout := cfg.TokenizerTimeout
	if timeout <= 0 {
		timeout = defaultTokenizerTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	count, err := LoadTiktokenCounter(loadCtx, cfg.Model)
	if err != nil {
		log.WithError(err).Warn("token encoding unavailable, history trimming disabled")
		return nil
	}
	return NewHistoryTrimmer(cfg.HistoryTokenLimit, count, log)
}

// NewService compiles the reply and title chains around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, trimmer *HistoryTrimmer, log *logrus.Entry) (*Service, error) {
	replyTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)
	replyChain := compose.NewChain[map[string]any, *schema.Message]()
	replyChain.AppendChatTemplate(replyTemplate)
	replyChain.AppendChatModel(chatModel)

	reply, err := replyChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	titleTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{request}"),
	)
	titleChain := compose.NewChain[map[string]any, *schema.Message]()
	titleChain.AppendChatTemplate(titleTemplate)
	titleChain.AppendChatModel(chatModel)

	title, err := titleChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	return &Service{
		replyChain: reply,
		titleChain: title,
		prompts:    DefaultPrompts(),
		trimmer:    trimmer,
		log:        log,
	}, nil
}

// GenerateReply answers history behind the assistant persona.
func (s *Service) GenerateReply(ctx context.Context, history []chat.Message) (string, error) {
	input := map[string]any{
		"system":  s.prompts.Assistant,
		"history": toSchemaMessages(s.trimmer.Trim(history)),
	}

	response, err := s.replyChain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}

	s.log.WithFields(logrus.Fields{
		"history": len(history),
		"length":  len(content),
	}).Debug("generated reply")
	return content, nil
}

// GenerateTitle runs a single-turn title request.
func (s *Service) GenerateTitle(ctx context.Context, request string) (string, error) {
	input := map[string]any{
		"system":  s.prompts.Title,
		"request": request,
	}

	response, err := s.titleChain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run title chain: %w", err)
	}
	return response.Content, nil
}

func toSchemaMessages(messages []chat.Message) []*schema.Message {
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
