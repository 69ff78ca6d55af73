package ai

// Prompts holds the system instructions sent ahead of every completion.
type Prompts struct {
	// Assistant is the fixed persona for chat replies.
	Assistant string
	// Title frames the single-turn title requests.
	Title string
}

// DefaultPrompts 返回默认的系统提示词。
func DefaultPrompts() Prompts {
	return Prompts{
		Assistant: `You are a helpful AI assistant inside a content workbench.
Answer clearly and accurately. Stay factual: if you do not know something, say so instead of inventing facts, sources, or numbers.
Use markdown when it improves readability, and keep answers focused on the user's question.`,
		Title: `You write concise titles for chat conversations.
Reply with the title only: no quotes, no trailing punctuation, no explanation.`,
	}
}
