package chat

import "github.com/zhouzirui/ai-workbench/backend/internal/model/chat"

// Merge is the outcome of reconciling stored history with an incoming turn.
type Merge struct {
	// Stored is the persisted log the turn builds on.
	Stored []chat.Message
	// Fresh is the incoming contribution with a resent boundary message removed.
	Fresh []chat.Message
	// History is Stored followed by Fresh: what the model sees.
	History []chat.Message
	// Deduplicated reports whether the first incoming message was dropped as a resend.
	Deduplicated bool
}

// Reconcile merges incoming onto stored. Only the boundary pair is compared: when the last
// stored message equals the first incoming one the request is treated as a resend and that
// single message is dropped. Duplicates anywhere else are kept.
func Reconcile(stored, incoming []chat.Message) Merge {
	fresh := incoming
	deduplicated := false
	if len(stored) > 0 && len(incoming) > 0 && stored[len(stored)-1].Same(incoming[0]) {
		fresh = incoming[1:]
		deduplicated = true
	}

	history := make([]chat.Message, 0, len(stored)+len(fresh))
	history = append(history, stored...)
	history = append(history, fresh...)

	return Merge{
		Stored:       stored,
		Fresh:        append([]chat.Message(nil), fresh...),
		History:      history,
		Deduplicated: deduplicated,
	}
}
