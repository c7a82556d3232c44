package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, 24*time.Hour), mr
}

func TestGetEmptySession(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	sess, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Empty(t, sess.History)
	assert.Equal(t, 0, sess.TokensUsed)
}

func TestAppendTurnsAndGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	err := cache.AppendTurns(ctx, "sess-1", 42,
		Turn{Role: RoleUser, Content: "who wrote Berserk?", Timestamp: time.Now()},
		Turn{Role: RoleAssistant, Content: "Kentaro Miura.", Timestamp: time.Now()},
	)
	require.NoError(t, err)

	sess, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.History, 2)
	assert.Equal(t, RoleUser, sess.History[0].Role)
	assert.Equal(t, "who wrote Berserk?", sess.History[0].Content)
	assert.Equal(t, RoleAssistant, sess.History[1].Role)
	assert.Equal(t, 42, sess.TokensUsed)
}

func TestAppendTurnsAccumulatesTokens(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.AppendTurns(ctx, "sess-1", 30, Turn{Role: RoleUser, Content: "a"}))
	require.NoError(t, cache.AppendTurns(ctx, "sess-1", 70, Turn{Role: RoleUser, Content: "b"}))

	sess, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 100, sess.TokensUsed)
	assert.Len(t, sess.History, 2)
}

func TestRecentTurnsWindow(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		turn := Turn{Role: RoleUser, Content: string(rune('a' + i))}
		require.NoError(t, cache.AppendTurns(ctx, "sess-1", 1, turn))
	}

	turns, err := cache.RecentTurns(ctx, "sess-1", 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "e", turns[0].Content)
	assert.Equal(t, "h", turns[3].Content)

	// Full history stays intact; only the read window is capped.
	sess, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, sess.History, 8)
}

func TestSessionExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.AppendTurns(ctx, "sess-1", 10, Turn{Role: RoleUser, Content: "hi"}))

	mr.FastForward(25 * time.Hour)

	sess, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, sess.History)
	assert.Equal(t, 0, sess.TokensUsed)
}

func TestTouchRefreshesTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.AppendTurns(ctx, "sess-1", 10, Turn{Role: RoleUser, Content: "hi"}))

	mr.FastForward(20 * time.Hour)
	require.NoError(t, cache.Touch(ctx, "sess-1"))
	mr.FastForward(20 * time.Hour)

	sess, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, sess.History, 1)
}

func TestDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.AppendTurns(ctx, "sess-1", 10, Turn{Role: RoleUser, Content: "hi"}))
	require.NoError(t, cache.Delete(ctx, "sess-1"))

	sess, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, sess.History)
	assert.Equal(t, 0, sess.TokensUsed)
}

func TestMalformedEntriesSkipped(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.AppendTurns(ctx, "sess-1", 5, Turn{Role: RoleUser, Content: "hi"}))
	mr.Lpush("sess:sess-1:history", "not-json")

	sess, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, sess.History, 1)
}
