package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/codec"
)

type chatInternal struct {
	ChatID    string          `json:"chat_id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Messages  json.RawMessage `json:"messages"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store keeps sessions as JSON documents in Redis with a per-user set of chat ids.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an existing client. prefix namespaces every key, so several
// deployments (or test runs) can share a database.
func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return New(rdb, prefix), nil
}

func (s *Store) ResolveAccount(ctx context.Context, subject string) (user.Account, error) {
	raw, err := s.rdb.Get(ctx, s.accountKey(subject)).Bytes()
	if err != nil {
		return user.Account{}, classify("resolve account", err)
	}
	var account user.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return user.Account{}, store.StorageError("unmarshal account", err)
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
	account.CreatedAt = s.now().UTC()

	raw, err := json.Marshal(account)
	if err != nil {
		return user.Account{}, store.StorageError("marshal account", err)
	}
	created, err := s.rdb.SetNX(ctx, s.accountKey(account.Subject), raw, 0).Result()
	if err != nil {
		return user.Account{}, classify("upsert account", err)
	}
	if created {
		return account, nil
	}
	return s.ResolveAccount(ctx, account.Subject)
}

func (s *Store) LoadSession(ctx context.Context, sessionID, userID string) (chat.Session, error) {
	chatInt, err := s.getChatInt(ctx, s.rdb, sessionID)
	if err != nil {
		return chat.Session{}, classify("load session", err)
	}
	if chatInt.UserID != userID {
		return chat.Session{}, apperr.ErrNotFound
	}
	return chatInt.toSession(), nil
}

func (s *Store) CreateSession(ctx context.Context, userID, title string, initial []chat.Message) (chat.Session, error) {
	messages, err := codec.EncodeMessages(initial)
	if err != nil {
		return chat.Session{}, store.StorageError("encode messages", err)
	}

	now := s.now().UTC()
	chatInt := chatInternal{
		ChatID:    uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Messages:  messages,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	raw, err := json.Marshal(chatInt)
	if err != nil {
		return chat.Session{}, store.StorageError("marshal chat", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.chatKey(chatInt.ChatID), raw, 0)
		pipe.SAdd(ctx, s.userChatsKey(userID), chatInt.ChatID)
		return nil
	})
	if err != nil {
		return chat.Session{}, classify("create session", err)
	}
	return chatInt.toSession(), nil
}

func (s *Store) AppendAndSave(ctx context.Context, session chat.Session, newMessages []chat.Message, title string) (chat.Session, error) {
	messages, err := codec.EncodeMessages(store.Merge(session.Messages, newMessages))
	if err != nil {
		return chat.Session{}, store.StorageError("encode messages", err)
	}

	var saved chatInternal
	key := s.chatKey(session.ID)
	err = s.watch(ctx, key, func(tx *redis.Tx) error {
		current, err := s.getChatInt(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if current.UserID != session.UserID {
			return apperr.ErrNotFound
		}
		if current.Version != session.Version {
			return apperr.ErrConflict
		}

		current.Messages = messages
		current.Version++
		current.UpdatedAt = chat.Touch(current.UpdatedAt, s.now())
		if title != "" {
			current.Title = title
		}
		raw, err := json.Marshal(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		if err == nil {
			saved = current
		}
		return err
	})
	if err != nil {
		return chat.Session{}, classify("save session", err)
	}
	return saved.toSession(), nil
}

func (s *Store) UpdateTitle(ctx context.Context, sessionID, userID, title string) error {
	key := s.chatKey(sessionID)
	txf := func(tx *redis.Tx) error {
		current, err := s.getChatInt(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if current.UserID != userID {
			return apperr.ErrNotFound
		}
		current.Title = title
		raw, err := json.Marshal(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	// A concurrent save only moves the log forward; retry so the title lands on top of it.
	if err := s.watch(ctx, key, txf); err != nil {
		return classify("update title", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]chat.SessionSummary, error) {
	ids, err := s.rdb.SMembers(ctx, s.userChatsKey(userID)).Result()
	if err != nil {
		return nil, classify("list sessions", err)
	}

	summaries := make([]chat.SessionSummary, 0, len(ids))
	for _, id := range ids {
		chatInt, err := s.getChatInt(ctx, s.rdb, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, classify("list sessions", err)
		}
		if chatInt.UserID != userID {
			continue
		}
		summaries = append(summaries, chatInt.toSession().Summary())
	}

	store.SortSummaries(summaries)
	return summaries, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// watchRetries bounds how often an optimistic transaction is replayed after a watched key changed.
const watchRetries = 5

// watch runs fn under WATCH key and replays it when another client touched the key before EXEC.
// fn re-reads the document on every attempt, so a stale session version is still reported by fn.
func (s *Store) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	var err error
	for attempt := 0; attempt <= watchRetries; attempt++ {
		err = s.rdb.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *Store) getChatInt(ctx context.Context, c redis.Cmdable, chatID string) (chatInternal, error) {
	raw, err := c.Get(ctx, s.chatKey(chatID)).Bytes()
	if err != nil {
		return chatInternal{}, err
	}
	var chatInt chatInternal
	if err := json.Unmarshal(raw, &chatInt); err != nil {
		return chatInternal{}, fmt.Errorf("failed to unmarshal chat %s: %w", chatID, err)
	}
	return chatInt, nil
}

func (c chatInternal) toSession() chat.Session {
	return chat.Session{
		ID:        c.ChatID,
		UserID:    c.UserID,
		Title:     c.Title,
		Messages:  codec.DecodeMessages(c.Messages),
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, redis.Nil), errors.Is(err, apperr.ErrNotFound):
		return apperr.ErrNotFound
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, apperr.ErrConflict):
		return apperr.ErrConflict
	default:
		return store.StorageError(op, err)
	}
}

func (s *Store) chatKey(chatID string) string {
	return fmt.Sprintf("%schat_%s", s.prefix, chatID)
}

func (s *Store) userChatsKey(userID string) string {
	return fmt.Sprintf("%suser_chats_%s", s.prefix, userID)
}

func (s *Store) accountKey(subject string) string {
	return fmt.Sprintf("%saccount_%s", s.prefix, subject)
}
