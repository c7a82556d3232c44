//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatExchange(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "chatter@test.com")
	token := LoginUser(t, env, "chatter@test.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": "Best space western anime?"}, token)
	require.Equal(t, 200, resp.StatusCode)

	// Chat replies are written without the response envelope.
	data := ParseResponse(t, resp)
	assert.Equal(t, "Cowboy Bebop. See you, space cowboy.", data["reply"])
	assert.NotEmpty(t, data["sessionId"])
	assert.Equal(t, float64(50), data["tokensUsed"])
	assert.Equal(t, float64(50), data["cumulativeUsage"])
	assert.Equal(t, float64(2000), data["tierLimit"])
	assert.Equal(t, float64(1950), data["tokensRemaining"])
	assert.Equal(t, float64(19), data["requestsRemaining"])
	assert.Equal(t, false, data["limitReached"])
}

func TestChatSessionHistory(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "historian@test.com")
	token := LoginUser(t, env, "historian@test.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": "Who wrote Berserk?", "sessionId": "berserk-talk"}, token)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": "When did it start?", "sessionId": "berserk-talk"}, token)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "GET", "/api/v1/chat/sessions/berserk-talk", nil, token)
	require.Equal(t, 200, resp.StatusCode)
	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	turns := data["history"].([]any)
	// Two exchanges, user and assistant each.
	assert.Len(t, turns, 4)

	resp = DoRequest(t, env, "DELETE", "/api/v1/chat/sessions/berserk-talk", nil, token)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "GET", "/api/v1/chat/sessions/berserk-talk", nil, token)
	require.Equal(t, 200, resp.StatusCode)
	result = ParseResponse(t, resp)
	data = result["data"].(map[string]any)
	assert.Empty(t, data["history"])
}

func TestChatBannedUserRejected(t *testing.T) {
	env := SetupTestEnv(t)
	userID := createQuotaUser(t, env, "exile@test.com")
	token := LoginUser(t, env, "exile@test.com", "password123")

	require.NoError(t, env.QuotaSvc.Ban(context.Background(), userID, "repeated abuse", nil))

	resp := DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": "hello?"}, token)
	require.Equal(t, 403, resp.StatusCode)

	result := ParseResponse(t, resp)
	assert.Equal(t, "ACCOUNT_BANNED", result["code"])
	assert.Equal(t, "repeated abuse", result["banReason"])
}

func TestChatRequestLimitRejected(t *testing.T) {
	env := SetupTestEnv(t)
	userID := createQuotaUser(t, env, "spender@test.com")
	token := LoginUser(t, env, "spender@test.com", "password123")

	_, err := env.Pool.Exec(context.Background(),
		`UPDATE user_quotas SET request_count = 20 WHERE user_id = $1`, userID)
	require.NoError(t, err)

	resp := DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": "one more?"}, token)
	require.Equal(t, 429, resp.StatusCode)

	result := ParseResponse(t, resp)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", result["code"])
	assert.NotEmpty(t, result["resetAt"])
}

func TestChatTokenLimitRejected(t *testing.T) {
	env := SetupTestEnv(t)
	userID := createQuotaUser(t, env, "glutton@test.com")
	token := LoginUser(t, env, "glutton@test.com", "password123")

	_, err := env.Pool.Exec(context.Background(),
		`UPDATE user_quotas SET token_usage = 2000 WHERE user_id = $1`, userID)
	require.NoError(t, err)

	resp := DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": "still there?"}, token)
	require.Equal(t, 403, resp.StatusCode)

	result := ParseResponse(t, resp)
	assert.Equal(t, "TOKEN_LIMIT_EXCEEDED", result["code"])
	assert.Equal(t, float64(2000), result["tokensUsed"])
	assert.Equal(t, float64(2000), result["tokenLimit"])

	// The rejected attempt still claimed a request slot.
	var count int
	require.NoError(t, env.Pool.QueryRow(context.Background(),
		`SELECT request_count FROM user_quotas WHERE user_id = $1`, userID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestChatEmptyMessageRejected(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "mute@test.com")
	token := LoginUser(t, env, "mute@test.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": ""}, token)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}

func TestChatRequiresAuth(t *testing.T) {
	env := SetupTestEnv(t)
	resp := DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": "anyone home?"}, "")
	defer resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode)
}

func TestChatPersistsToConversation(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "archivist@test.com")
	token := LoginUser(t, env, "archivist@test.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/conversations",
		map[string]string{"title": "Bebop talk"}, token)
	require.Equal(t, 201, resp.StatusCode)
	result := ParseResponse(t, resp)
	convID := result["data"].(map[string]any)["id"].(string)

	resp = DoRequest(t, env, "POST", "/api/v1/chat",
		map[string]string{"message": "Best space western anime?", "conversationId": convID}, token)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "GET", "/api/v1/conversations/"+convID, nil, token)
	require.Equal(t, 200, resp.StatusCode)
	result = ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	messages := data["messages"].([]any)
	require.Len(t, messages, 2)

	first := messages[0].(map[string]any)
	second := messages[1].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "assistant", second["role"])
	assert.Equal(t, "Cowboy Bebop. See you, space cowboy.", second["content"])
	assert.Equal(t, float64(50), second["tokens"])
}

func TestChatUsageVisibleInStatus(t *testing.T) {
	env := SetupTestEnv(t)
	userID := createQuotaUser(t, env, "tracked@test.com")
	token := LoginUser(t, env, "tracked@test.com", "password123")

	for i := 0; i < 3; i++ {
		resp := DoRequest(t, env, "POST", "/api/v1/chat",
			map[string]string{"message": "recommend me something"}, token)
		require.Equal(t, 200, resp.StatusCode)
		resp.Body.Close()
	}

	resp := DoRequest(t, env, "GET", fmt.Sprintf("/api/v1/rate-limit-status/%s", userID), nil, token)
	require.Equal(t, 200, resp.StatusCode)
	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	requests := data["requests"].(map[string]any)
	tokens := data["tokens"].(map[string]any)
	assert.Equal(t, float64(3), requests["used"])
	assert.Equal(t, float64(150), tokens["used"])
}
