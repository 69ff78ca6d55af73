package chat

// Role identifies the author of a stored turn. System instructions are injected at
// completion time and never persisted.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the storable roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry of a session's ordered log.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a message authored by the user.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds a message authored by the assistant.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Same reports whether both messages carry the same role and content.
func (m Message) Same(other Message) bool {
	return m.Role == other.Role && m.Content == other.Content
}

// Request is a validated chat turn payload.
type Request struct {
	SessionID string
	Messages  []Message
}
