package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senpai-platform/senpai/internal/config"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:           baseURL,
		APIKey:            "test-key",
		Model:             "gpt-4o-mini",
		MaxResponseTokens: 300,
		Temperature:       0.8,
		Timeout:           5 * time.Second,
	}
}

func TestCompleteSuccess(t *testing.T) {
	var captured completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Fullmetal Alchemist, easily."}},
			},
			"usage": map[string]int{
				"prompt_tokens":     40,
				"completion_tokens": 12,
				"total_tokens":      52,
			},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	comp, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: "best shounen?"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Fullmetal Alchemist, easily.", comp.Content)
	assert.Equal(t, 52, comp.TotalTokens)
	assert.Equal(t, 40, comp.PromptTokens)
	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.Equal(t, 300, captured.MaxTokens)
	assert.InDelta(t, 0.8, captured.Temperature, 0.001)
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model overloaded", "type": "server_error"},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestCompleteMissingUsageFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "One Piece is still going."}},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	comp, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Greater(t, comp.TotalTokens, 0)
}

func TestCompleteNegativeUsageClamped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "hm"}},
			},
			"usage": map[string]int{
				"prompt_tokens":     -5,
				"completion_tokens": 7,
				"total_tokens":      -1,
			},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	comp, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 7, comp.TotalTokens)
	assert.Equal(t, 0, comp.PromptTokens)
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	client := NewClient(cfg)

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{},
			"usage":   map[string]int{"total_tokens": 5},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Greater(t, EstimateTokens("who is the strongest jujutsu sorcerer?"), 0)
}

func TestEstimateConversation(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: "hello"},
	}
	single := EstimateTokens(SystemPrompt) + EstimateTokens("hello")
	assert.GreaterOrEqual(t, EstimateConversation(msgs), single)
}
