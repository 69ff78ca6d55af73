package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/codec"
)

const sessionColumns = `id, user_id, title, messages, version, created_at, updated_at`

// Store is the PostgreSQL backend. Messages live in a JSONB column on the session row.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func (s *Store) ResolveAccount(ctx context.Context, subject string) (user.Account, error) {
	var account user.Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, subject, email, created_at FROM accounts WHERE subject = $1
	`, subject).Scan(&account.ID, &account.Subject, &account.Email, &account.CreatedAt)
	if err != nil {
		return user.Account{}, classify("resolve account", err)
	}
	return account, nil
}

func (s *Store) UpsertAccount(ctx context.Context, account user.Account) (user.Account, error) {
	if strings.TrimSpace(account.Subject) == "" {
		return user.Account{}, apperr.ErrInvalidRequest
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	var result user.Account
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, subject, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE SET subject = EXCLUDED.subject
		RETURNING id, subject, email, created_at
	`, account.ID, account.Subject, account.Email, s.timestamp()).
		Scan(&result.ID, &result.Subject, &result.Email, &result.CreatedAt)
	if err != nil {
		return user.Account{}, classify("upsert account", err)
	}
	return result, nil
}

func (s *Store) LoadSession(ctx context.Context, sessionID, userID string) (chat.Session, error) {
	if !validIDs(sessionID, userID) {
		return chat.Session{}, apperr.ErrNotFound
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1 AND user_id = $2
	`, sessionID, userID)
	session, err := scanSession(row)
	if err != nil {
		return chat.Session{}, classify("load session", err)
	}
	return session, nil
}

func (s *Store) CreateSession(ctx context.Context, userID, title string, initial []chat.Message) (chat.Session, error) {
	if !validIDs(userID) {
		return chat.Session{}, apperr.ErrNotFound
	}
	messages, err := codec.EncodeMessages(initial)
	if err != nil {
		return chat.Session{}, store.StorageError("encode messages", err)
	}

	now := s.timestamp()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, user_id, title, messages, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		RETURNING `+sessionColumns,
		uuid.NewString(), userID, title, messages, now)
	session, err := scanSession(row)
	if err != nil {
		return chat.Session{}, classify("create session", err)
	}
	return session, nil
}

func (s *Store) AppendAndSave(ctx context.Context, session chat.Session, newMessages []chat.Message, title string) (chat.Session, error) {
	if !validIDs(session.ID, session.UserID) {
		return chat.Session{}, apperr.ErrNotFound
	}
	messages, err := codec.EncodeMessages(store.Merge(session.Messages, newMessages))
	if err != nil {
		return chat.Session{}, store.StorageError("encode messages", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE chat_sessions
		SET messages = $1,
		    version = version + 1,
		    title = COALESCE(NULLIF($2, ''), title),
		    updated_at = GREATEST($3, updated_at + INTERVAL '1 microsecond')
		WHERE id = $4 AND user_id = $5 AND version = $6
		RETURNING `+sessionColumns,
		messages, title, s.timestamp(), session.ID, session.UserID, session.Version)
	saved, err := scanSession(row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return chat.Session{}, classify("save session", err)
	}

	// No row matched: either the session is gone or someone saved first.
	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id = $1 AND user_id = $2)
	`, session.ID, session.UserID).Scan(&exists)
	if err != nil {
		return chat.Session{}, classify("save session", err)
	}
	if !exists {
		return chat.Session{}, apperr.ErrNotFound
	}
	return chat.Session{}, apperr.ErrConflict
}

func (s *Store) UpdateTitle(ctx context.Context, sessionID, userID, title string) error {
	if !validIDs(sessionID, userID) {
		return apperr.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_sessions SET title = $1 WHERE id = $2 AND user_id = $3
	`, title, sessionID, userID)
	if err != nil {
		return classify("update title", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]chat.SessionSummary, error) {
	summaries := make([]chat.SessionSummary, 0)
	if !validIDs(userID) {
		return summaries, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC, id
	`, userID)
	if err != nil {
		return nil, classify("list sessions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var summary chat.SessionSummary
		if err := rows.Scan(&summary.ID, &summary.Title, &summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, classify("list sessions", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list sessions", err)
	}

	store.SortSummaries(summaries)
	return summaries, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// timestamp matches the column precision so values returned to callers equal stored ones.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func scanSession(row pgx.Row) (chat.Session, error) {
	var (
		session  chat.Session
		messages []byte
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Title,
		&messages,
		&session.Version,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return chat.Session{}, err
	}
	session.Messages = codec.DecodeMessages(messages)
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return session, nil
}

// validIDs reports whether every id is a UUID; anything else can never match a row.
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if uuid.Validate(id) != nil {
			return false
		}
	}
	return true
}

func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return store.StorageError(op, err)
}
