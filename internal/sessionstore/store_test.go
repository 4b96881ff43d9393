package sessionstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "sessions.db")
	}
	if cfg.RetentionMode == "" {
		cfg.RetentionMode = config.RetentionPersistent
	}
	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEphemeralStoreIsNoop(t *testing.T) {
	store := openTestStore(t, config.StoreConfig{RetentionMode: config.RetentionEphemeral})
	ctx := context.Background()

	require.NoError(t, store.StartSession(ctx, "s-1", "u1", "u2"))
	require.NoError(t, store.AppendTurn(ctx, Turn{SessionID: "s-1", Reply: "hi"}))

	_, err := store.LastSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t, config.StoreConfig{})
	ctx := context.Background()

	_, err := store.LastSession(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, store.StartSession(ctx, "s-1", "u1", "u2"))
	require.NoError(t, store.AppendTurn(ctx, Turn{SessionID: "s-1", TurnID: "t-1", Reply: "hello", AudioBytes: 10}))
	require.NoError(t, store.AppendTurn(ctx, Turn{SessionID: "s-1", TurnID: "t-2", Reply: "again"}))
	require.NoError(t, store.EndSession(ctx, "s-1"))
	require.NoError(t, store.SaveSummary(ctx, "s-1", "good match", 75))

	session, err := store.LastSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s-1", session.ID)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, "u2", session.PartnerUserID)
	assert.False(t, session.EndedAt.IsZero())
	assert.Equal(t, "good match", session.Summary)
	assert.Equal(t, 75, session.ChemistryIndex)

	turns, err := store.ListTurns(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello", turns[0].Reply)
	assert.Equal(t, 10, turns[0].AudioBytes)
	assert.Equal(t, "t-2", turns[1].TurnID)
}

func TestPruneKeepsNewestSessions(t *testing.T) {
	store := openTestStore(t, config.StoreConfig{MaxSessions: 1, RetentionDays: 1})
	ctx := context.Background()

	now := time.Now()
	store.clock = func() time.Time { return now.Add(-48 * time.Hour) }
	require.NoError(t, store.StartSession(ctx, "old", "u1", ""))
	store.clock = func() time.Time { return now.Add(-time.Hour) }
	require.NoError(t, store.StartSession(ctx, "older-recent", "u1", ""))
	store.clock = func() time.Time { return now }
	require.NoError(t, store.StartSession(ctx, "newest", "u1", ""))
	require.NoError(t, store.AppendTurn(ctx, Turn{SessionID: "older-recent", Reply: "x"}))

	require.NoError(t, store.Prune(ctx))

	session, err := store.LastSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newest", session.ID)

	turns, err := store.ListTurns(ctx, "older-recent", 10)
	require.NoError(t, err)
	assert.Empty(t, turns, "turns should go with their session")
}

func TestRecorderPersistsCoordinatorEvents(t *testing.T) {
	store := openTestStore(t, config.StoreConfig{})
	recorder := NewRecorder(store, "u1", "u2")

	recorder.Handle(events.NewSessionStarted("s-7"))
	recorder.Handle(events.NewTurnCompleted("t-1", "s-7", "welcome", 3))
	recorder.Handle(events.NewTurnCompleted("t-0", "", "no session yet", 0))
	recorder.Handle(events.NewUserSpeechStarted())
	recorder.Handle(events.NewSessionEnded("s-7"))

	ctx := context.Background()
	session, err := store.LastSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s-7", session.ID)
	assert.Equal(t, "u2", session.PartnerUserID)
	assert.False(t, session.EndedAt.IsZero())

	turns, err := store.ListTurns(ctx, "s-7", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "welcome", turns[0].Reply)
}
