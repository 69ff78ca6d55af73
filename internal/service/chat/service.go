package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/ai"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/title"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
	"github.com/zhouzirui/ai-workbench/backend/internal/validation"
)

// Options tunes the turn pipeline.
type Options struct {
	// ReplyTimeout bounds a single completion call. Zero means no extra bound.
	ReplyTimeout time.Duration
	// ReplyRetries is the number of extra attempts after a failed completion.
	ReplyRetries int
	RetryBackoff time.Duration
	// AutoProvision creates the account for an unknown verified identity.
	AutoProvision bool
}

// Service runs chat turns: AuthCheck, Validate, LoadOrCreateSession, Reconcile,
// GenerateReply, Persist, then hands the title work to the title manager.
type Service struct {
	store     store.Store
	completer ai.Completer
	titles    *title.Manager
	opts      Options
	log       *logrus.Entry
}

func NewService(st store.Store, completer ai.Completer, titles *title.Manager, opts Options, log *logrus.Entry) *Service {
	return &Service{
		store:     st,
		completer: completer,
		titles:    titles,
		opts:      opts,
		log:       log,
	}
}

// TurnResult is the response to a successful turn.
type TurnResult struct {
	SessionID string         `json:"sessionId"`
	Reply     string         `json:"reply"`
	Messages  []chat.Message `json:"messages"`
}

// HistoryResult is one session as returned by the history endpoint.
type HistoryResult struct {
	SessionID string         `json:"sessionId"`
	Messages  []chat.Message `json:"messages"`
	Title     string         `json:"title"`
}

// Turn processes one chat turn for identity.
func (s *Service) Turn(ctx context.Context, identity user.Identity, payload []byte) (*TurnResult, error) {
	if !identity.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}

	req, err := validation.ParseChatRequest(payload)
	if err != nil {
		return nil, err
	}

	account, err := s.resolveAccount(ctx, identity)
	if err != nil {
		return nil, err
	}

	session, err := s.loadOrNew(ctx, account.ID, req)
	if err != nil {
		return nil, err
	}

	// A new session has no ID until it is persisted together with its first turn.
	isNew := session.ID == ""
	var proposal *title.Proposal
	if isNew {
		proposal = s.titles.Propose(ctx, session.Title)
	}

	saved, merge, reply, err := s.replyAndPersist(ctx, session, req.Messages)
	if errors.Is(err, apperr.ErrConflict) && !isNew {
		s.log.WithField("session_id", session.ID).Info("concurrent save detected, reloading session")
		session, err = s.store.LoadSession(ctx, session.ID, account.ID)
		if err != nil {
			return nil, err
		}
		saved, merge, reply, err = s.replyAndPersist(ctx, session, req.Messages)
	}
	if err != nil {
		return nil, err
	}

	s.titles.Finalize(ctx, title.Turn{
		Session:       saved,
		Proposal:      proposal,
		FirstTurn:     len(merge.Stored) == 0,
		UserText:      userText(merge, req.Messages),
		AssistantText: reply,
	})

	s.log.WithFields(logrus.Fields{
		"session_id":   saved.ID,
		"new_session":  isNew,
		"deduplicated": merge.Deduplicated,
		"messages":     len(saved.Messages),
	}).Info("chat turn completed")

	return &TurnResult{
		SessionID: saved.ID,
		Reply:     reply,
		Messages:  saved.Messages,
	}, nil
}

// History returns one owned session.
func (s *Service) History(ctx context.Context, identity user.Identity, sessionID string) (*HistoryResult, error) {
	if !identity.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	account, err := s.resolveAccount(ctx, identity)
	if err != nil {
		return nil, err
	}

	session, err := s.store.LoadSession(ctx, strings.TrimSpace(sessionID), account.ID)
	if err != nil {
		return nil, err
	}
	return &HistoryResult{
		SessionID: session.ID,
		Messages:  session.Messages,
		Title:     session.Title,
	}, nil
}

// Sessions lists the caller's sessions, most recently updated first.
func (s *Service) Sessions(ctx context.Context, identity user.Identity) ([]chat.SessionSummary, error) {
	if !identity.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	account, err := s.resolveAccount(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, account.ID)
}

// Account resolves the caller's account, provisioning it when that is enabled.
func (s *Service) Account(ctx context.Context, identity user.Identity) (user.Account, error) {
	if !identity.Authenticated() {
		return user.Account{}, apperr.ErrUnauthorized
	}
	return s.resolveAccount(ctx, identity)
}

func (s *Service) resolveAccount(ctx context.Context, identity user.Identity) (user.Account, error) {
	account, err := s.store.ResolveAccount(ctx, identity.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) || !s.opts.AutoProvision {
		return user.Account{}, fmt.Errorf("resolve account: %w", err)
	}

	account, err = s.store.UpsertAccount(ctx, user.Account{Subject: identity.Subject, Email: identity.Email})
	if err != nil {
		return user.Account{}, fmt.Errorf("provision account: %w", err)
	}
	s.log.WithField("account_id", account.ID).Info("account provisioned")
	return account, nil
}

// loadOrNew loads the requested session or prepares an unsaved one carrying the fallback title.
func (s *Service) loadOrNew(ctx context.Context, userID string, req chat.Request) (chat.Session, error) {
	if req.SessionID != "" {
		return s.store.LoadSession(ctx, req.SessionID, userID)
	}
	return chat.Session{
		UserID: userID,
		Title:  title.Fallback(req.Messages),
	}, nil
}

func (s *Service) replyAndPersist(ctx context.Context, session chat.Session, incoming []chat.Message) (chat.Session, Merge, string, error) {
	merge := Reconcile(session.Messages, incoming)

	reply, err := s.generateReply(ctx, merge.History)
	if err != nil {
		return chat.Session{}, merge, "", err
	}

	newMessages := make([]chat.Message, 0, len(merge.Fresh)+1)
	newMessages = append(newMessages, merge.Fresh...)
	newMessages = append(newMessages, chat.AssistantMessage(reply))

	var saved chat.Session
	if session.ID == "" {
		saved, err = s.store.CreateSession(ctx, session.UserID, session.Title, newMessages)
	} else {
		saved, err = s.store.AppendAndSave(ctx, session, newMessages, "")
	}
	if err != nil {
		return chat.Session{}, merge, "", fmt.Errorf("persist turn: %w", err)
	}
	return saved, merge, reply, nil
}

// generateReply calls the completer, retrying transient failures before anything is persisted.
func (s *Service) generateReply(ctx context.Context, history []chat.Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.ReplyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", apperr.ErrUpstream, ctx.Err())
			case <-time.After(s.opts.RetryBackoff * time.Duration(attempt)):
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.opts.ReplyTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.opts.ReplyTimeout)
		}
		reply, err := s.completer.GenerateReply(callCtx, history)
		cancel()
		if err == nil {
			return reply, nil
		}

		lastErr = err
		s.log.WithError(err).WithField("attempt", attempt+1).Warn("reply generation failed")
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", apperr.ErrUpstream, lastErr)
}

// userText is the user side of the turn for title refinement.
func userText(merge Merge, incoming []chat.Message) string {
	source := merge.Fresh
	if len(source) == 0 {
		source = incoming
	}
	parts := lo.FilterMap(source, func(m chat.Message, _ int) (string, bool) {
		return m.Content, m.Role == chat.RoleUser
	})
	return strings.Join(parts, "\n")
}
