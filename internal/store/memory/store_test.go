package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/storetest"
)

func TestMemoryStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestUpdatedAtIncreasesWithFrozenClock(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New()
	s.now = func() time.Time { return frozen }

	session, err := s.CreateSession(ctx, "owner", "t", nil)
	req.NoError(err)

	saved, err := s.AppendAndSave(ctx, session, []chat.Message{chat.UserMessage("x")}, "")
	req.NoError(err)
	req.True(saved.UpdatedAt.After(session.UpdatedAt))

	again, err := s.AppendAndSave(ctx, saved, []chat.Message{chat.AssistantMessage("y")}, "")
	req.NoError(err)
	req.True(again.UpdatedAt.After(saved.UpdatedAt))
}

func TestLoadReturnsIndependentCopy(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()

	session, err := s.CreateSession(ctx, "owner", "t", []chat.Message{chat.UserMessage("original")})
	req.NoError(err)

	loaded, err := s.LoadSession(ctx, session.ID, "owner")
	req.NoError(err)
	loaded.Messages[0].Content = "mutated"

	again, err := s.LoadSession(ctx, session.ID, "owner")
	req.NoError(err)
	req.Equal("original", again.Messages[0].Content)
}
