package title

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
)

func TestFallback(t *testing.T) {
	long := strings.Repeat("abcdefghij", 8)

	tests := []struct {
		name     string
		incoming []chat.Message
		want     string
	}{
		{"no messages", nil, DefaultTitle},
		{"first message", []chat.Message{chat.UserMessage("Explain recursion to me")}, "Explain recursion to me"},
		{"short first prefers second", []chat.Message{
			chat.UserMessage("hi"),
			chat.UserMessage("How do I reverse a linked list?"),
		}, "How do I reverse a linked list?"},
		{"short first without second", []chat.Message{chat.UserMessage("hi")}, "hi"},
		{"truncated to max length", []chat.Message{chat.UserMessage(long)}, long[:MaxFallbackLength]},
		{"whitespace collapsed", []chat.Message{chat.UserMessage("Plan   my\n\ntrip to Kyoto")}, "Plan my trip to Kyoto"},
		{"multibyte counted as characters", []chat.Message{chat.UserMessage(strings.Repeat("你", 70))}, strings.Repeat("你", MaxFallbackLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fallback(tt.incoming)
			require.Equal(t, tt.want, got)
			require.LessOrEqual(t, len([]rune(got)), MaxFallbackLength)
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		raw      string
		maxWords int
		want     string
	}{
		{`"Recursion Basics."`, 6, "Recursion Basics"},
		{"“Understanding Recursion in Depth”", 6, "Understanding Recursion in Depth"},
		{"Title: Trip Planning for Kyoto", 6, "Trip Planning for Kyoto"},
		{"One two three four five six seven eight", 6, "One two three four five six"},
		{"First line\nignored explanation", 7, "First line"},
		{`"..."`, 6, ""},
		{"   ", 6, ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, Clean(tt.raw, tt.maxWords), tt.raw)
	}
}
