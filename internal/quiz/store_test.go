package quiz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewSessionStore(client, 24*time.Hour, 5000, 10000, zerolog.Nop()), mr
}

func TestSessionStore_LoadDefaults(t *testing.T) {
	store, _ := newTestStore(t)

	state, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)

	assert.False(t, state.IsQuizStarted)
	assert.False(t, state.IsQuizEnded)
	assert.Equal(t, ScoringIndividual, state.ScoringMode)
	assert.Equal(t, 5000, state.ReadingTime)
	assert.Equal(t, 10000, state.QuizTime)
	assert.Empty(t, state.Scores)
	assert.Empty(t, state.IneligibleStudents)
	assert.Equal(t, int64(0), state.Version)
}

func TestSessionStore_SaveRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	state, err := store.Load(ctx, "s1")
	require.NoError(t, err)

	state.IsQuizStarted = true
	state.Scores["alice"] = 3
	state.IneligibleStudents = []string{"bob"}
	require.NoError(t, store.Save(ctx, "s1", state))
	assert.Equal(t, int64(1), state.Version)

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, loaded.IsQuizStarted)
	assert.Equal(t, map[string]int{"alice": 3}, loaded.Scores)
	assert.Equal(t, []string{"bob"}, loaded.IneligibleStudents)
	assert.Equal(t, int64(1), loaded.Version)

	// TTL set on the stored key.
	assert.Greater(t, mr.TTL("quiz:session:s1"), time.Duration(0))
}

func TestSessionStore_VersionConflict(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	second, err := store.Load(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "s1", first))

	// The concurrent writer loses: its loaded version is stale.
	err = store.Save(ctx, "s1", second)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(0), second.Version)

	// The winner can keep writing.
	first.Scores["alice"] = 1
	require.NoError(t, store.Save(ctx, "s1", first))
	assert.Equal(t, int64(2), first.Version)
}

func TestSessionStore_SaveAcceptsExpiredKey(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	state, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "s1", state))

	mr.Del("quiz:session:s1")

	// A write against an expired key succeeds; the session restarts fresh.
	state.Scores["alice"] = 2
	assert.NoError(t, store.Save(ctx, "s1", state))
}
