package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
)

// MaxMessages bounds the number of messages accepted in one turn.
const MaxMessages = 50

var validate = validator.New()

// Error describes why a payload was rejected. It unwraps to apperr.ErrInvalidRequest.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return apperr.ErrInvalidRequest
}

func invalid(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

type messagePayload struct {
	Role    string `validate:"required,oneof=user assistant"`
	Content string `validate:"required"`
}

// ParseChatRequest validates a raw chat turn payload and normalizes it.
// Message content is trimmed; an empty sessionId is treated as absent.
func ParseChatRequest(payload []byte) (chat.Request, error) {
	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		return chat.Request{}, invalid("Request body must be an object")
	}
	fields, ok := body.(map[string]any)
	if !ok {
		return chat.Request{}, invalid("Request body must be an object")
	}

	var sessionID string
	if raw, present := fields["sessionId"]; present {
		s, ok := raw.(string)
		if !ok {
			return chat.Request{}, invalid("Session ID must be a string")
		}
		sessionID = strings.TrimSpace(s)
	}

	messages, err := parseMessages(fields["messages"])
	if err != nil {
		return chat.Request{}, err
	}

	if err := validate.Var(messages, fmt.Sprintf("min=1,max=%d", MaxMessages)); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "max" {
			return chat.Request{}, invalid("Too many messages (maximum %d)", MaxMessages)
		}
		return chat.Request{}, invalid("At least one message is required")
	}

	return chat.Request{SessionID: sessionID, Messages: messages}, nil
}

func parseMessages(raw any) ([]chat.Message, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, invalid("Messages must be an array")
	}

	messages := make([]chat.Message, 0, len(items))
	for i, item := range items {
		msg, ok := parseMessage(item)
		if !ok {
			return nil, invalid("Invalid message format at index %d", i)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func parseMessage(item any) (chat.Message, bool) {
	fields, ok := item.(map[string]any)
	if !ok {
		return chat.Message{}, false
	}
	role, ok := fields["role"].(string)
	if !ok {
		return chat.Message{}, false
	}
	content, ok := fields["content"].(string)
	if !ok {
		return chat.Message{}, false
	}

	candidate := messagePayload{Role: role, Content: strings.TrimSpace(content)}
	if err := validate.Struct(candidate); err != nil {
		return chat.Message{}, false
	}
	return chat.Message{Role: chat.Role(candidate.Role), Content: candidate.Content}, true
}
