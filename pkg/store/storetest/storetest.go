// Package storetest holds the behavioral contract every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harun/concierge/pkg/conversation"
	"github.com/harun/concierge/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Run closes it.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store contract.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	open := func(t *testing.T) store.Store {
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("unseen id loads a fresh session", func(t *testing.T) {
		s := open(t)
		session, err := s.Load(ctx, "never-seen")
		require.NoError(t, err)
		assert.Equal(t, conversation.Session{}, session)
	})

	t.Run("read your writes", func(t *testing.T) {
		s := open(t)
		want := conversation.Session{
			History: []conversation.Turn{
				{Role: conversation.RoleUser, Text: "Can I bring my pet snake?", At: at},
				{Role: conversation.RoleAssistant, Text: "Would you like me to escalate?", At: at},
			},
			LastOutcome:     conversation.OutcomeCannotAnswer,
			PendingQuestion: "Can I bring my pet snake?",
			UpdatedAt:       at,
		}
		require.NoError(t, s.Save(ctx, "telegram:1001", want))

		got, err := s.Load(ctx, "telegram:1001")
		require.NoError(t, err)
		assert.Equal(t, want.LastOutcome, got.LastOutcome)
		assert.Equal(t, want.PendingQuestion, got.PendingQuestion)
		assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
		require.Len(t, got.History, 2)
		assert.Equal(t, want.History[0].Text, got.History[0].Text)
		assert.Equal(t, want.History[1].Role, got.History[1].Role)
	})

	t.Run("save overwrites", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(ctx, "s1", conversation.Session{LastOutcome: conversation.OutcomeCannotAnswer, PendingQuestion: "q", UpdatedAt: at}))
		require.NoError(t, s.Save(ctx, "s1", conversation.Session{LastOutcome: conversation.OutcomeEscalated, UpdatedAt: at}))

		got, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, conversation.OutcomeEscalated, got.LastOutcome)
		assert.Empty(t, got.PendingQuestion)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(ctx, "a", conversation.Session{LastOutcome: conversation.OutcomeAnswered, UpdatedAt: at}))

		got, err := s.Load(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, conversation.OutcomeNone, got.LastOutcome)
	})

	t.Run("loaded session is a copy", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(ctx, "s1", conversation.Session{
			History:   []conversation.Turn{{Role: conversation.RoleUser, Text: "hi", At: at}},
			UpdatedAt: at,
		}))

		got, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		got.History[0].Text = "mutated"

		again, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "hi", again.History[0].Text)
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		s := open(t)
		_, err := s.Load(ctx, "")
		assert.ErrorIs(t, err, store.ErrInvalidSessionID)
		assert.ErrorIs(t, s.Save(ctx, " ", conversation.Session{}), store.ErrInvalidSessionID)
	})

	t.Run("concurrent saves to different ids", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Save(ctx, fmt.Sprintf("s-%d", i), conversation.Session{LastOutcome: conversation.OutcomeAnswered, UpdatedAt: at}))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 8; i++ {
			got, err := s.Load(ctx, fmt.Sprintf("s-%d", i))
			require.NoError(t, err)
			assert.Equal(t, conversation.OutcomeAnswered, got.LastOutcome)
		}
	})

	t.Run("prune removes only stale sessions", func(t *testing.T) {
		s := open(t)
		pruner, ok := s.(store.Pruner)
		if !ok {
			t.Skip("backend does not prune")
		}

		old := at.Add(-48 * time.Hour)
		require.NoError(t, s.Save(ctx, "stale", conversation.Session{LastOutcome: conversation.OutcomeAnswered, UpdatedAt: old}))
		require.NoError(t, s.Save(ctx, "fresh", conversation.Session{LastOutcome: conversation.OutcomeAnswered, UpdatedAt: at}))

		n, err := pruner.Prune(ctx, at.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stale, err := s.Load(ctx, "stale")
		require.NoError(t, err)
		assert.Equal(t, conversation.OutcomeNone, stale.LastOutcome)

		fresh, err := s.Load(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, conversation.OutcomeAnswered, fresh.LastOutcome)
	})
}
