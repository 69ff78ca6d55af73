// Package codec defines the storage encoding of a session's message log: a JSON array
// of {"role","content"} objects. Decoding is tolerant and drops entries it cannot read.
package codec

import (
	"encoding/json"

	"github.com/samber/lo"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
)

type storedMessage struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

// EncodeMessages serializes a log for storage. A nil log encodes as an empty array.
func EncodeMessages(messages []chat.Message) ([]byte, error) {
	if messages == nil {
		messages = []chat.Message{}
	}
	return json.Marshal(messages)
}

// DecodeMessages parses a stored log. Anything that is not an array yields an empty log,
// and elements with an unknown role or a non-string content are discarded.
func DecodeMessages(raw []byte) []chat.Message {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []chat.Message{}
	}

	return lo.FilterMap(items, func(item json.RawMessage, _ int) (chat.Message, bool) {
		var stored storedMessage
		if err := json.Unmarshal(item, &stored); err != nil {
			return chat.Message{}, false
		}
		if stored.Role == nil || stored.Content == nil {
			return chat.Message{}, false
		}
		role := chat.Role(*stored.Role)
		if !role.Valid() {
			return chat.Message{}, false
		}
		return chat.Message{Role: role, Content: *stored.Content}, true
	})
}
