// Package storetest is the behavioral suite every store backend must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"AccountLifecycle", testAccountLifecycle},
		{"CreateAndLoad", testCreateAndLoad},
		{"OwnershipIsolation", testOwnershipIsolation},
		{"AppendAndSave", testAppendAndSave},
		{"StaleVersionConflict", testStaleVersionConflict},
		{"UpdateTitle", testUpdateTitle},
		{"ListSessionsOrdering", testListSessionsOrdering},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testAccountLifecycle(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()

	_, err := s.ResolveAccount(ctx, "user_missing")
	req.ErrorIs(err, apperr.ErrNotFound)

	created, err := s.UpsertAccount(ctx, user.Account{Subject: "user_alice", Email: "alice@example.com"})
	req.NoError(err)
	req.NotEmpty(created.ID)

	again, err := s.UpsertAccount(ctx, user.Account{Subject: "user_alice"})
	req.NoError(err)
	req.Equal(created.ID, again.ID)

	resolved, err := s.ResolveAccount(ctx, "user_alice")
	req.NoError(err)
	req.Equal(created.ID, resolved.ID)
	req.Equal("alice@example.com", resolved.Email)
}

func testCreateAndLoad(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := account(t, s, "user_create")

	initial := []chat.Message{chat.UserMessage("hello")}
	created, err := s.CreateSession(ctx, owner.ID, "Greeting", initial)
	req.NoError(err)
	req.NotEmpty(created.ID)
	req.Equal("Greeting", created.Title)
	req.Equal(initial, created.Messages)
	req.False(created.CreatedAt.IsZero())

	loaded, err := s.LoadSession(ctx, created.ID, owner.ID)
	req.NoError(err)
	req.Equal(created.ID, loaded.ID)
	req.Equal(owner.ID, loaded.UserID)
	req.Equal(initial, loaded.Messages)
	req.Equal(created.Version, loaded.Version)

	_, err = s.LoadSession(ctx, "2b1f3a52-1111-4e4e-9a9a-000000000000", owner.ID)
	req.ErrorIs(err, apperr.ErrNotFound)

	_, err = s.LoadSession(ctx, "not-a-session-id", owner.ID)
	req.ErrorIs(err, apperr.ErrNotFound)
}

func testOwnershipIsolation(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	alice := account(t, s, "user_alice_iso")
	bob := account(t, s, "user_bob_iso")

	session, err := s.CreateSession(ctx, bob.ID, "Bob's secrets", []chat.Message{chat.UserMessage("secret")})
	req.NoError(err)

	_, err = s.LoadSession(ctx, session.ID, alice.ID)
	req.ErrorIs(err, apperr.ErrNotFound)

	forged := session
	forged.UserID = alice.ID
	_, err = s.AppendAndSave(ctx, forged, []chat.Message{chat.UserMessage("mine now")}, "")
	req.ErrorIs(err, apperr.ErrNotFound)

	req.ErrorIs(s.UpdateTitle(ctx, session.ID, alice.ID, "stolen"), apperr.ErrNotFound)

	list, err := s.ListSessions(ctx, alice.ID)
	req.NoError(err)
	req.Empty(list)

	intact, err := s.LoadSession(ctx, session.ID, bob.ID)
	req.NoError(err)
	req.Equal("Bob's secrets", intact.Title)
	req.Len(intact.Messages, 1)
}

func testAppendAndSave(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := account(t, s, "user_append")

	session, err := s.CreateSession(ctx, owner.ID, "Draft", nil)
	req.NoError(err)
	req.Empty(session.Messages)

	turn := []chat.Message{chat.UserMessage("Explain recursion"), chat.AssistantMessage("A function calling itself.")}
	saved, err := s.AppendAndSave(ctx, session, turn, "")
	req.NoError(err)
	req.Equal(turn, saved.Messages)
	req.Equal("Draft", saved.Title)
	req.Greater(saved.Version, session.Version)
	req.True(saved.UpdatedAt.After(session.UpdatedAt), "updatedAt must increase")

	next := []chat.Message{chat.UserMessage("Give an example"), chat.AssistantMessage("factorial")}
	again, err := s.AppendAndSave(ctx, saved, next, "Recursion")
	req.NoError(err)
	req.Len(again.Messages, 4)
	req.Equal("Recursion", again.Title)
	req.True(again.UpdatedAt.After(saved.UpdatedAt), "updatedAt must increase")

	loaded, err := s.LoadSession(ctx, session.ID, owner.ID)
	req.NoError(err)
	req.Equal(again.Messages, loaded.Messages)
	req.Equal(again.Version, loaded.Version)
	req.Equal("Recursion", loaded.Title)
}

func testStaleVersionConflict(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := account(t, s, "user_conflict")

	session, err := s.CreateSession(ctx, owner.ID, "Race", nil)
	req.NoError(err)

	first, err := s.LoadSession(ctx, session.ID, owner.ID)
	req.NoError(err)
	second, err := s.LoadSession(ctx, session.ID, owner.ID)
	req.NoError(err)

	_, err = s.AppendAndSave(ctx, first, []chat.Message{chat.UserMessage("a"), chat.AssistantMessage("b")}, "")
	req.NoError(err)

	_, err = s.AppendAndSave(ctx, second, []chat.Message{chat.UserMessage("c"), chat.AssistantMessage("d")}, "")
	req.ErrorIs(err, apperr.ErrConflict)

	loaded, err := s.LoadSession(ctx, session.ID, owner.ID)
	req.NoError(err)
	req.Equal([]chat.Message{chat.UserMessage("a"), chat.AssistantMessage("b")}, loaded.Messages)
}

func testUpdateTitle(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := account(t, s, "user_title")

	session, err := s.CreateSession(ctx, owner.ID, "hi", nil)
	req.NoError(err)

	req.NoError(s.UpdateTitle(ctx, session.ID, owner.ID, "Friendly Greeting Exchange"))

	loaded, err := s.LoadSession(ctx, session.ID, owner.ID)
	req.NoError(err)
	req.Equal("Friendly Greeting Exchange", loaded.Title)
	req.Equal(session.Version, loaded.Version, "title updates must not bump the version")

	req.ErrorIs(s.UpdateTitle(ctx, "2b1f3a52-1111-4e4e-9a9a-000000000001", owner.ID, "x"), apperr.ErrNotFound)
}

func testListSessionsOrdering(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := account(t, s, "user_list")
	other := account(t, s, "user_list_other")

	older, err := s.CreateSession(ctx, owner.ID, "older", nil)
	req.NoError(err)
	time.Sleep(2 * time.Millisecond)
	newer, err := s.CreateSession(ctx, owner.ID, "newer", nil)
	req.NoError(err)
	_, err = s.CreateSession(ctx, other.ID, "someone else", nil)
	req.NoError(err)

	list, err := s.ListSessions(ctx, owner.ID)
	req.NoError(err)
	req.Len(list, 2)
	req.Equal(newer.ID, list[0].ID)
	req.Equal(older.ID, list[1].ID)

	time.Sleep(2 * time.Millisecond)
	_, err = s.AppendAndSave(ctx, older, []chat.Message{chat.UserMessage("bump")}, "")
	req.NoError(err)

	list, err = s.ListSessions(ctx, owner.ID)
	req.NoError(err)
	req.Equal(older.ID, list[0].ID, "a save moves the session to the top")
	req.Equal("older", list[0].Title)
}

func account(t *testing.T, s store.Store, subject string) user.Account {
	t.Helper()
	acc, err := s.UpsertAccount(context.Background(), user.Account{Subject: subject})
	require.NoError(t, err)
	return acc
}
