package title

import (
	"strings"
	"unicode"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
)

const (
	// DefaultTitle is used when no message content is available.
	DefaultTitle = "New Chat"
	// ShortMessageThreshold is the length below which the first message is a poor title source.
	ShortMessageThreshold = 12
	// MaxFallbackLength caps the fallback title, in characters.
	MaxFallbackLength = 60

	maxProposalWords   = 6
	maxRefinementWords = 7
)

// Fallback derives the title stored when a session is created.
func Fallback(incoming []chat.Message) string {
	candidate := ""
	if len(incoming) > 0 {
		candidate = strings.TrimSpace(incoming[0].Content)
	}
	if len([]rune(candidate)) < ShortMessageThreshold && len(incoming) > 1 {
		if second := strings.TrimSpace(incoming[1].Content); second != "" {
			candidate = second
		}
	}

	candidate = strings.Join(strings.Fields(candidate), " ")
	if candidate == "" {
		return DefaultTitle
	}
	if runes := []rune(candidate); len(runes) > MaxFallbackLength {
		candidate = strings.TrimSpace(string(runes[:MaxFallbackLength]))
	}
	return candidate
}

// Clean normalizes raw model output into a title of at most maxWords words. Quote characters
// and periods are removed. It returns "" when nothing usable is left.
func Clean(raw string, maxWords int) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(strings.TrimSpace(line), "Title:")

	line = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '`', '.', '“', '”', '‘', '’', '«', '»':
			return -1
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, line)

	words := strings.Fields(line)
	if len(words) == 0 {
		return ""
	}
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}
