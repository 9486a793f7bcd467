package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexiqai/interview-agent/internal/session"
)

func msg(id string, sender session.Sender, kind session.Kind, text string) session.Message {
	return session.Message{ID: id, Sender: sender, Kind: kind, Text: text, At: time.Now()}
}

func TestStore_MessagesRoundTripInOrder(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.AppendMessage(ctx, "42", msg("a", session.SenderAI, session.KindNormal, "Hello")))
	require.NoError(t, store.AppendMessage(ctx, "42", msg("b", session.SenderCandidate, session.KindNormal, "Hi")))
	require.NoError(t, store.AppendMessage(ctx, "7", msg("c", session.SenderAI, session.KindNormal, "Other session")))

	msgs, err := store.Messages(ctx, "42")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, session.SenderCandidate, msgs[1].Sender)
	require.Equal(t, "Hi", msgs[1].Text)
}

func TestStore_Stats(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	require.NoError(t, store.AppendPhase(ctx, "42", session.PhaseIdle, session.PhaseAwaitingMedia, start))
	require.NoError(t, store.AppendPhase(ctx, "42", session.PhaseAwaitingMedia, session.PhaseActive, start.Add(time.Second)))
	require.NoError(t, store.AppendPhase(ctx, "42", session.PhaseActive, session.PhaseComplete, start.Add(time.Minute)))

	for _, m := range []session.Message{
		msg("1", session.SenderAI, session.KindNormal, "Hello"),
		msg("2", session.SenderCandidate, session.KindNormal, "Hi"),
		msg("3", session.SenderAI, session.KindInterruption, "Next question"),
		msg("4", session.SenderAI, session.KindLoading, "Analyzing..."),
		msg("5", session.SenderAI, session.KindError, "Interview terminated."),
	} {
		require.NoError(t, store.AppendMessage(ctx, "42", m))
	}

	st, err := store.Stats(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, 1, st.CandidateTurns)
	require.Equal(t, 3, st.AITurns)
	require.Equal(t, 1, st.Interruptions)
	require.Equal(t, 1, st.Errors)
	require.Equal(t, session.PhaseComplete, st.Phase)
	require.Equal(t, time.Minute, st.Duration)

	phases, err := store.Phases(ctx, "42")
	require.NoError(t, err)
	require.Len(t, phases, 3)
	require.Equal(t, session.PhaseActive, phases[1].To)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, "42", msg("a", session.SenderAI, session.KindNormal, "Hello")))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	msgs, err := store.Messages(ctx, "42")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestStore_EmptySession(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	st, err := store.Stats(context.Background(), "missing")
	require.NoError(t, err)
	require.Zero(t, st.CandidateTurns)
	require.Empty(t, st.Phase)
}
