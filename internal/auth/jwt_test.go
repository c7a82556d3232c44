package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *JWTManager {
	return NewJWTManager("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
}

func TestGenerateAndValidateTokenPair(t *testing.T) {
	m := newTestManager()

	pair, tokenID, err := m.GenerateTokenPair("user-123", "rei@example.com", "standard")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEmpty(t, tokenID)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := m.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "rei@example.com", claims.Email)
	assert.Equal(t, "standard", claims.Role)
	assert.Equal(t, "senpai", claims.Issuer)

	refreshClaims, err := m.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", refreshClaims.UserID)
	assert.Equal(t, tokenID, refreshClaims.TokenID)
}

func TestValidateAccessTokenWrongSecret(t *testing.T) {
	m := newTestManager()
	other := NewJWTManager("different-secret", "refresh-secret", 15*time.Minute, time.Hour)

	pair, _, err := m.GenerateTokenPair("user-123", "rei@example.com", "standard")
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestValidateExpiredAccessToken(t *testing.T) {
	m := NewJWTManager("access-secret", "refresh-secret", -time.Minute, time.Hour)

	pair, _, err := m.GenerateTokenPair("user-123", "rei@example.com", "standard")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestAccessTokenRejectedAsRefreshToken(t *testing.T) {
	m := newTestManager()

	pair, _, err := m.GenerateTokenPair("user-123", "rei@example.com", "standard")
	require.NoError(t, err)

	// Signed with a different secret, so cross-use must fail.
	_, err = m.ValidateRefreshToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestValidateGarbageToken(t *testing.T) {
	m := newTestManager()
	_, err := m.ValidateAccessToken("not.a.token")
	assert.Error(t, err)
}

func TestAdminRoleCarriedInClaims(t *testing.T) {
	m := newTestManager()

	pair, _, err := m.GenerateTokenPair("admin-1", "gendo@example.com", "admin")
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
}
