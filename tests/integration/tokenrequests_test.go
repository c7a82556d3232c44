//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminToken(t *testing.T, env *TestEnv, email string) string {
	t.Helper()
	RegisterUser(t, env, email, "password123")
	PromoteToAdmin(t, env, email)
	return LoginUser(t, env, email, "password123")
}

func TestTokenRequestApprovalFlow(t *testing.T) {
	env := SetupTestEnv(t)
	userID := createQuotaUser(t, env, "requester@test.com")
	userToken := LoginUser(t, env, "requester@test.com", "password123")
	admToken := adminToken(t, env, "reviewer@test.com")

	// Burn through some quota first so the reset is observable.
	_, err := env.Ledger.AddTokens(context.Background(), userID, 1900)
	require.NoError(t, err)

	resp := DoRequest(t, env, "POST", "/api/v1/token-requests",
		map[string]string{"reason": "I need more tokens to finish my Monogatari deep dive"}, userToken)
	require.Equal(t, 201, resp.StatusCode)
	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	requestID := data["id"].(string)
	assert.Equal(t, "pending", data["status"])

	// Pending request shows up for the admin.
	resp = DoRequest(t, env, "GET", "/api/v1/admin/token-requests", nil, admToken)
	require.Equal(t, 200, resp.StatusCode)
	result = ParseResponse(t, resp)
	pending := result["data"].([]any)
	require.NotEmpty(t, pending)

	resp = DoRequest(t, env, "POST", "/api/v1/admin/token-requests/"+requestID+"/approve",
		map[string]string{"note": "fair enough"}, admToken)
	require.Equal(t, 200, resp.StatusCode)
	result = ParseResponse(t, resp)
	data = result["data"].(map[string]any)
	assert.Equal(t, "approved", data["status"])

	// Approval resets both windows.
	rec, err := env.Ledger.LoadOrInit(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.TokenUsage)
	assert.Equal(t, 0, rec.RequestCount)
	assert.False(t, rec.HasPendingTokenRequest)
}

func TestTokenRequestSecondPendingRejected(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "greedy@test.com")
	token := LoginUser(t, env, "greedy@test.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/token-requests",
		map[string]string{"reason": "ran out mid-conversation"}, token)
	require.Equal(t, 201, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "POST", "/api/v1/token-requests",
		map[string]string{"reason": "asking again just in case"}, token)
	defer resp.Body.Close()
	assert.Equal(t, 409, resp.StatusCode)
}

func TestTokenRequestConcurrentSubmitsSinglePending(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "racer@test.com")
	token := LoginUser(t, env, "racer@test.com", "password123")

	const attempts = 5
	var mu sync.Mutex
	created := 0

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := DoRequest(t, env, "POST", "/api/v1/token-requests",
				map[string]string{"reason": "racing for tokens"}, token)
			defer resp.Body.Close()
			if resp.StatusCode == 201 {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// The partial unique index lets exactly one through.
	assert.Equal(t, 1, created)
}

func TestTokenRequestDailyCap(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "persistent@test.com")
	userToken := LoginUser(t, env, "persistent@test.com", "password123")
	admToken := adminToken(t, env, "gatekeeper@test.com")

	// Submit and get rejected three times; rejected requests still count.
	for i := 0; i < 3; i++ {
		resp := DoRequest(t, env, "POST", "/api/v1/token-requests",
			map[string]string{"reason": "please reconsider"}, userToken)
		require.Equal(t, 201, resp.StatusCode)
		result := ParseResponse(t, resp)
		requestID := result["data"].(map[string]any)["id"].(string)

		resp = DoRequest(t, env, "POST", "/api/v1/admin/token-requests/"+requestID+"/reject",
			map[string]string{"note": "no"}, admToken)
		require.Equal(t, 200, resp.StatusCode)
		resp.Body.Close()
	}

	resp := DoRequest(t, env, "GET", "/api/v1/token-requests/can-request", nil, userToken)
	require.Equal(t, 200, resp.StatusCode)
	result := ParseResponse(t, resp)
	elig := result["data"].(map[string]any)
	assert.Equal(t, false, elig["canRequest"])
	assert.Equal(t, float64(0), elig["remainingToday"])

	resp = DoRequest(t, env, "POST", "/api/v1/token-requests",
		map[string]string{"reason": "fourth time is the charm"}, userToken)
	defer resp.Body.Close()
	assert.Equal(t, 429, resp.StatusCode)
}

func TestTokenRequestRejectRequiresNote(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "curious@test.com")
	userToken := LoginUser(t, env, "curious@test.com", "password123")
	admToken := adminToken(t, env, "scrupulous@test.com")

	resp := DoRequest(t, env, "POST", "/api/v1/token-requests",
		map[string]string{"reason": "need a top-up"}, userToken)
	require.Equal(t, 201, resp.StatusCode)
	result := ParseResponse(t, resp)
	requestID := result["data"].(map[string]any)["id"].(string)

	// A rejection without a note is refused and leaves the request pending.
	resp = DoRequest(t, env, "POST", "/api/v1/admin/token-requests/"+requestID+"/reject", nil, admToken)
	require.Equal(t, 400, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "POST", "/api/v1/admin/token-requests/"+requestID+"/reject",
		map[string]string{"note": "   "}, admToken)
	require.Equal(t, 400, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "POST", "/api/v1/admin/token-requests/"+requestID+"/reject",
		map[string]string{"note": "usage looks organic, wait for the reset"}, admToken)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestTokenRequestApproveNonPending(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "double@test.com")
	userToken := LoginUser(t, env, "double@test.com", "password123")
	admToken := adminToken(t, env, "twice@test.com")

	resp := DoRequest(t, env, "POST", "/api/v1/token-requests",
		map[string]string{"reason": "one reset please"}, userToken)
	require.Equal(t, 201, resp.StatusCode)
	result := ParseResponse(t, resp)
	requestID := result["data"].(map[string]any)["id"].(string)

	resp = DoRequest(t, env, "POST", "/api/v1/admin/token-requests/"+requestID+"/approve", nil, admToken)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "POST", "/api/v1/admin/token-requests/"+requestID+"/approve", nil, admToken)
	defer resp.Body.Close()
	assert.Equal(t, 409, resp.StatusCode)
}

func TestTokenRequestsRequireAdminForReview(t *testing.T) {
	env := SetupTestEnv(t)
	createQuotaUser(t, env, "civilian@test.com")
	token := LoginUser(t, env, "civilian@test.com", "password123")

	resp := DoRequest(t, env, "GET", "/api/v1/admin/token-requests", nil, token)
	defer resp.Body.Close()
	assert.Equal(t, 403, resp.StatusCode)
}
