package ai

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
)

// TokenCounter returns the prompt size of messages in model tokens.
type TokenCounter func(messages []chat.Message) (int, error)

// HistoryTrimmer drops the oldest messages until the history fits a token budget.
type HistoryTrimmer struct {
	limit int
	count TokenCounter
	log   *logrus.Entry
}

// NewHistoryTrimmer returns a trimmer for limit tokens. A non-positive limit disables trimming.
func NewHistoryTrimmer(limit int, count TokenCounter, log *logrus.Entry) *HistoryTrimmer {
	return &HistoryTrimmer{limit: limit, count: count, log: log}
}

// Trim returns the newest suffix of history that fits the budget. The last message is always
// kept. When counting fails the history is returned untouched.
func (t *HistoryTrimmer) Trim(history []chat.Message) []chat.Message {
	if t == nil || t.limit <= 0 || t.count == nil {
		return history
	}

	start := 0
	for start < len(history)-1 {
		tokens, err := t.count(history[start:])
		if err != nil {
			t.log.WithError(err).Warn("count tokens failed, sending full history")
			return history
		}
		if tokens <= t.limit {
			break
		}
		start++
	}

	if start > 0 {
		t.log.WithFields(logrus.Fields{
			"dropped": start,
			"kept":    len(history) - start,
		}).Debug("history trimmed due to token limit")
	}
	return history[start:]
}

// LoadTiktokenCounter loads the BPE encoding of modelName, falling back to cl100k_base for
// models tiktoken does not know. The encoding may be downloaded on first use and tiktoken gives
// that download no deadline, so the caller's ctx bounds the wait instead. A load that outlives
// ctx keeps running in the background but its result is discarded.
func LoadTiktokenCounter(ctx context.Context, modelName string) (TokenCounter, error) {
	type loaded struct {
		tkm *tiktoken.Tiktoken
		err error
	}
	done := make(chan loaded, 1)
	go func() {
		tkm, err := tiktoken.EncodingForModel(modelName)
		if err != nil {
			tkm, err = tiktoken.GetEncoding("cl100k_base")
		}
		done <- loaded{tkm: tkm, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load token encoding: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("load token encoding: %w", res.err)
		}
		return tiktokenCounter(res.tkm), nil
	}
}

func tiktokenCounter(tkm *tiktoken.Tiktoken) TokenCounter {
	return func(messages []chat.Message) (int, error) {
		// Chat framing overhead per message and for the reply primer.
		const tokensPerMessage = 3
		total := 3
		for _, msg := range messages {
			total += tokensPerMessage
			total += len(tkm.Encode(string(msg.Role), nil, nil))
			total += len(tkm.Encode(msg.Content, nil, nil))
		}
		return total, nil
	}
}
