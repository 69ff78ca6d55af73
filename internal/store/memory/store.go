package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
)

// Store keeps accounts and sessions in process memory. Suitable for tests and local runs.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]user.Account
	sessions map[string]chat.Session
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]user.Account),
		sessions: make(map[string]chat.Session),
		now:      time.Now,
	}
}

// ResolveAccount looks up the account bound to subject.
func (s *Store) ResolveAccount(_ context.Context, subject string) (user.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[subject]
	if !ok {
		return user.Account{}, apperr.ErrNotFound
	}
	return account, nil
}

// UpsertAccount creates the account for account.Subject when it does not exist yet.
func (s *Store) UpsertAccount(_ context.Context, account user.Account) (user.Account, error) {
	if strings.TrimSpace(account.Subject) == "" {
		return user.Account{}, apperr.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[account.Subject]; ok {
		return existing, nil
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.CreatedAt = s.now().UTC()
	s.accounts[account.Subject] = account
	return account, nil
}

// LoadSession returns a copy of the session when userID owns it.
func (s *Store) LoadSession(_ context.Context, sessionID, userID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return chat.Session{}, apperr.ErrNotFound
	}
	return clone(session), nil
}

// CreateSession provisions a session owned by userID.
func (s *Store) CreateSession(_ context.Context, userID, title string, initial []chat.Message) (chat.Session, error) {
	now := s.now().UTC()
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Messages:  store.Merge(nil, initial),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return clone(session), nil
}

// AppendAndSave replaces the stored log when session.Version is current.
func (s *Store) AppendAndSave(_ context.Context, session chat.Session, newMessages []chat.Message, title string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.ID]
	if !ok || current.UserID != session.UserID {
		return chat.Session{}, apperr.ErrNotFound
	}
	if current.Version != session.Version {
		return chat.Session{}, apperr.ErrConflict
	}

	current.Messages = store.Merge(session.Messages, newMessages)
	current.Version++
	current.UpdatedAt = chat.Touch(current.UpdatedAt, s.now())
	if title != "" {
		current.Title = title
	}
	s.sessions[current.ID] = current
	return clone(current), nil
}

// UpdateTitle rewrites the title of an owned session.
func (s *Store) UpdateTitle(_ context.Context, sessionID, userID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sessionID]
	if !ok || current.UserID != userID {
		return apperr.ErrNotFound
	}
	current.Title = title
	s.sessions[sessionID] = current
	return nil
}

// ListSessions returns the owner's sessions newest first.
func (s *Store) ListSessions(_ context.Context, userID string) ([]chat.SessionSummary, error) {
	s.mu.RLock()
	summaries := make([]chat.SessionSummary, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			summaries = append(summaries, session.Summary())
		}
	}
	s.mu.RUnlock()

	store.SortSummaries(summaries)
	return summaries, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func clone(session chat.Session) chat.Session {
	session.Messages = store.Merge(nil, session.Messages)
	return session
}
