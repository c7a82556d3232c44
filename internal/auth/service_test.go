package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewService(newTestManager(), client), mr
}

func TestGenerateTokensStoresRefresh(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	pair, err := svc.GenerateTokens(ctx, "user-1", "asuka@example.com", "standard")
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "refresh:user-1:")
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	pair, err := svc.GenerateTokens(ctx, "user-1", "asuka@example.com", "standard")
	require.NoError(t, err)
	oldKeys := mr.Keys()

	newPair, err := svc.RefreshTokens(ctx, pair.RefreshToken, "asuka@example.com", "standard")
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	// Old token ID is gone, a new one took its place.
	newKeys := mr.Keys()
	require.Len(t, newKeys, 1)
	assert.NotEqual(t, oldKeys[0], newKeys[0])

	// Replaying the old refresh token fails.
	_, err = svc.RefreshTokens(ctx, pair.RefreshToken, "asuka@example.com", "standard")
	assert.Error(t, err)
}

func TestRefreshPicksUpRoleChange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.GenerateTokens(ctx, "user-1", "asuka@example.com", "standard")
	require.NoError(t, err)

	newPair, err := svc.RefreshTokens(ctx, pair.RefreshToken, "asuka@example.com", "admin")
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(newPair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
}

func TestRefreshRevokedToken(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	pair, err := svc.GenerateTokens(ctx, "user-1", "asuka@example.com", "standard")
	require.NoError(t, err)

	mr.FlushAll()

	_, err = svc.RefreshTokens(ctx, pair.RefreshToken, "asuka@example.com", "standard")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revoked")
}

func TestLogoutRevokesAllSessions(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	// Two devices, plus another user's session that must survive.
	_, err := svc.GenerateTokens(ctx, "user-1", "asuka@example.com", "standard")
	require.NoError(t, err)
	_, err = svc.GenerateTokens(ctx, "user-1", "asuka@example.com", "standard")
	require.NoError(t, err)
	_, err = svc.GenerateTokens(ctx, "user-2", "shinji@example.com", "standard")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "user-1"))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "refresh:user-2:")
}

func TestRefreshTokenExpiresWithTTL(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	pair, err := svc.GenerateTokens(ctx, "user-1", "asuka@example.com", "standard")
	require.NoError(t, err)

	mr.FastForward(8 * 24 * time.Hour)

	_, err = svc.RefreshTokens(ctx, pair.RefreshToken, "asuka@example.com", "standard")
	assert.Error(t, err)
}
