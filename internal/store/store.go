// Package store is the history store adapter: typed access to accounts and chat
// sessions over a pluggable persistence backend.
//
// Every session operation is scoped by owner. A session that belongs to another user
// is reported exactly like a missing one (apperr.ErrNotFound). Backend failures are
// wrapped with apperr.ErrStorage; a save based on a stale Version fails with
// apperr.ErrConflict.
package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
)

// Store is implemented by every persistence backend.
type Store interface {
	// ResolveAccount maps an external identity subject to its internal account.
	ResolveAccount(ctx context.Context, subject string) (user.Account, error)
	// UpsertAccount creates the account for account.Subject or returns the existing one.
	UpsertAccount(ctx context.Context, account user.Account) (user.Account, error)

	LoadSession(ctx context.Context, sessionID, userID string) (chat.Session, error)
	CreateSession(ctx context.Context, userID, title string, initial []chat.Message) (chat.Session, error)
	// AppendAndSave overwrites the stored log with session.Messages followed by
	// newMessages. session.Version must match the stored version. A non-empty title
	// replaces the stored title.
	AppendAndSave(ctx context.Context, session chat.Session, newMessages []chat.Message, title string) (chat.Session, error)
	// UpdateTitle rewrites the title without touching the log or the version.
	UpdateTitle(ctx context.Context, sessionID, userID, title string) error
	// ListSessions returns the owner's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]chat.SessionSummary, error)

	Close() error
}

// StorageError wraps a backend failure so that it matches apperr.ErrStorage while
// keeping the cause inspectable.
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStorage, err)
}

// Merge returns the log AppendAndSave persists.
func Merge(stored, newMessages []chat.Message) []chat.Message {
	merged := make([]chat.Message, 0, len(stored)+len(newMessages))
	merged = append(merged, stored...)
	return append(merged, newMessages...)
}

// SortSummaries orders listings by UpdatedAt descending, newest first.
func SortSummaries(summaries []chat.SessionSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
}
