package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	s, err := Open(t.TempDir(), logrus.NewEntry(logger))
	require.NoError(t, err)
	return s
}

func TestBadgerStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t)
	})
}

func TestMalformedStoredMessagesAreDropped(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := openTestStore(t)
	defer s.Close()

	session, err := s.CreateSession(ctx, "owner", "t", []chat.Message{chat.UserMessage("kept")})
	req.NoError(err)

	// Simulate a log written by an older client with a foreign entry in it.
	err = s.db.Update(func(txn *badger.Txn) error {
		var record sessionRecord
		if err := getJSON(txn, sessionKey(session.ID), &record); err != nil {
			return err
		}
		record.Messages = []byte(`[{"role":"user","content":"kept"},{"role":"tool","content":"x"},{"role":"assistant","content":"also kept"}]`)
		return setJSON(txn, sessionKey(session.ID), record)
	})
	req.NoError(err)

	loaded, err := s.LoadSession(ctx, session.ID, "owner")
	req.NoError(err)
	req.Equal([]chat.Message{chat.UserMessage("kept"), chat.AssistantMessage("also kept")}, loaded.Messages)
}

func TestReopenKeepsSessions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	entry := logrus.NewEntry(logrus.New())

	s, err := Open(dir, entry)
	req.NoError(err)
	session, err := s.CreateSession(ctx, "owner", "persisted", []chat.Message{chat.UserMessage("hello")})
	req.NoError(err)
	req.NoError(s.Close())

	reopened, err := Open(dir, entry)
	req.NoError(err)
	defer reopened.Close()

	loaded, err := reopened.LoadSession(ctx, session.ID, "owner")
	req.NoError(err)
	req.Equal("persisted", loaded.Title)
	req.Len(loaded.Messages, 1)
}

func TestTitleWriteDuringSaveIsNotAConflict(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := openTestStore(t)
	defer s.Close()

	session, err := s.CreateSession(ctx, "owner", "fallback", []chat.Message{chat.UserMessage("hi")})
	req.NoError(err)

	// Commit a title update between the save's read and its commit.
	titled := false
	s.now = func() time.Time {
		if !titled {
			titled = true
			req.NoError(s.UpdateTitle(ctx, session.ID, "owner", "Greeting"))
		}
		return time.Now()
	}

	saved, err := s.AppendAndSave(ctx, session, []chat.Message{chat.AssistantMessage("hello")}, "")
	req.NoError(err)
	req.True(titled)
	req.Equal(session.Version+1, saved.Version)
	req.Equal("Greeting", saved.Title)
	req.Len(saved.Messages, 2)

	_, err = s.AppendAndSave(ctx, session, []chat.Message{chat.AssistantMessage("stale")}, "")
	req.ErrorIs(err, apperr.ErrConflict)
}
