package ai

import (
	"context"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
)

//go:generate mockgen -source=completer.go -destination=mocks/mock_completer.go -package=mocks

// Completer is the completion collaborator consumed by the chat turn and title flows.
type Completer interface {
	// GenerateReply answers the conversation with the assistant persona prepended.
	GenerateReply(ctx context.Context, history []chat.Message) (string, error)
	// GenerateTitle runs a single-turn request and returns the raw model output.
	GenerateTitle(ctx context.Context, prompt string) (string, error)
}
