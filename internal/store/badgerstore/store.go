package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/codec"
)

// Key layout:
//
//	account:{subject}                      -> accountRecord
//	session:{sessionID}                    -> sessionRecord
//	user_sessions:{userID}:{sessionID}     -> empty, owner index for listings
const (
	accountPrefix      = "account:"
	sessionPrefix      = "session:"
	userSessionsPrefix = "user_sessions:"
)

type sessionRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Title     string          `json:"title"`
	Messages  json.RawMessage `json:"messages"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store persists accounts and sessions in an embedded Badger database.
type Store struct {
	db  *badger.DB
	log *logrus.Entry
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string, log *logrus.Entry) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(log).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &Store{db: db, log: log, now: time.Now}, nil
}

func (s *Store) ResolveAccount(_ context.Context, subject string) (user.Account, error) {
	var account user.Account
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, accountKey(subject), &account)
	})
	if err != nil {
		return user.Account{}, classify("resolve account", err)
	}
	return account, nil
}

func (s *Store) UpsertAccount(_ context.Context, account user.Account) (user.Account, error) {
	if strings.TrimSpace(account.Subject) == "" {
		return user.Account{}, apperr.ErrInvalidRequest
	}

	var result user.Account
	err := s.update(func(txn *badger.Txn) error {
		var existing user.Account
		err := getJSON(txn, accountKey(account.Subject), &existing)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if account.ID == "" {
			account.ID = uuid.NewString()
		}
		account.CreatedAt = s.now().UTC()
		result = account
		return setJSON(txn, accountKey(account.Subject), account)
	})
	if err != nil {
		return user.Account{}, classify("upsert account", err)
	}
	return result, nil
}

func (s *Store) LoadSession(_ context.Context, sessionID, userID string) (chat.Session, error) {
	var record sessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, sessionKey(sessionID), &record)
	})
	if err != nil {
		return chat.Session{}, classify("load session", err)
	}
	if record.UserID != userID {
		return chat.Session{}, apperr.ErrNotFound
	}
	return record.toSession(), nil
}

func (s *Store) CreateSession(_ context.Context, userID, title string, initial []chat.Message) (chat.Session, error) {
	messages, err := codec.EncodeMessages(initial)
	if err != nil {
		return chat.Session{}, store.StorageError("encode messages", err)
	}

	now := s.now().UTC()
	record := sessionRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Messages:  messages,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, sessionKey(record.ID), record); err != nil {
			return err
		}
		return txn.Set(userSessionKey(userID, record.ID), nil)
	})
	if err != nil {
		return chat.Session{}, classify("create session", err)
	}
	return record.toSession(), nil
}

func (s *Store) AppendAndSave(_ context.Context, session chat.Session, newMessages []chat.Message, title string) (chat.Session, error) {
	messages, err := codec.EncodeMessages(store.Merge(session.Messages, newMessages))
	if err != nil {
		return chat.Session{}, store.StorageError("encode messages", err)
	}

	var saved sessionRecord
	err = s.update(func(txn *badger.Txn) error {
		var current sessionRecord
		if err := getJSON(txn, sessionKey(session.ID), &current); err != nil {
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
		saved = current
		return setJSON(txn, sessionKey(current.ID), current)
	})
	if err != nil {
		return chat.Session{}, classify("save session", err)
	}
	return saved.toSession(), nil
}

func (s *Store) UpdateTitle(_ context.Context, sessionID, userID, title string) error {
	err := s.update(func(txn *badger.Txn) error {
		var current sessionRecord
		if err := getJSON(txn, sessionKey(sessionID), &current); err != nil {
			return err
		}
		if current.UserID != userID {
			return apperr.ErrNotFound
		}
		current.Title = title
		return setJSON(txn, sessionKey(sessionID), current)
	})
	if err != nil {
		return classify("update title", err)
	}
	return nil
}

func (s *Store) ListSessions(_ context.Context, userID string) ([]chat.SessionSummary, error) {
	summaries := make([]chat.SessionSummary, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userSessionsPrefix + userID + ":")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			sessionID := string(it.Item().Key()[len(prefix):])
			var record sessionRecord
			if err := getJSON(txn, sessionKey(sessionID), &record); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					s.log.WithField("session_id", sessionID).Warn("dangling owner index entry")
					continue
				}
				return err
			}
			summaries = append(summaries, record.toSession().Summary())
		}
		return nil
	})
	if err != nil {
		return nil, classify("list sessions", err)
	}

	store.SortSummaries(summaries)
	return summaries, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// txnRetries bounds how often a transaction is replayed after losing a commit race.
const txnRetries = 5

// update runs fn in a read-write transaction and replays it when another writer committed to
// the same keys first. fn re-reads its state on every attempt, so a stale session version still
// surfaces as apperr.ErrConflict from fn itself.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt <= txnRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.WithField("attempt", attempt+1).Debug("badger transaction conflict, retrying")
	}
	return err
}

func (r sessionRecord) toSession() chat.Session {
	return chat.Session{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Messages:  codec.DecodeMessages(r.Messages),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, badger.ErrKeyNotFound), errors.Is(err, apperr.ErrNotFound):
		return apperr.ErrNotFound
	case errors.Is(err, badger.ErrConflict), errors.Is(err, apperr.ErrConflict):
		return apperr.ErrConflict
	default:
		return store.StorageError(op, err)
	}
}

func accountKey(subject string) []byte {
	return []byte(accountPrefix + subject)
}

func sessionKey(sessionID string) []byte {
	return []byte(sessionPrefix + sessionID)
}

func userSessionKey(userID, sessionID string) []byte {
	return []byte(userSessionsPrefix + userID + ":" + sessionID)
}
