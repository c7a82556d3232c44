package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds per-session conversation state in Redis. Sessions are
// ephemeral: losing one costs conversational context, never quota
// correctness.
type Cache interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Touch(ctx context.Context, sessionID string) error
	AppendTurns(ctx context.Context, sessionID string, tokens int, turns ...Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Delete(ctx context.Context, sessionID string) error
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) Cache {
	return &redisCache{client: client, ttl: ttl}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("sess:%s:history", sessionID)
}

func tokensKey(sessionID string) string {
	return fmt.Sprintf("sess:%s:tokens", sessionID)
}

// Get returns the session's full history and token tally. A session that
// has never been written returns empty state, not an error.
func (c *redisCache) Get(ctx context.Context, sessionID string) (*Session, error) {
	vals, err := c.client.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", historyKey(sessionID), err)
	}

	history := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var turn Turn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			continue // skip malformed entries
		}
		history = append(history, turn)
	}

	tokens := 0
	raw, err := c.client.Get(ctx, tokensKey(sessionID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get %s: %w", tokensKey(sessionID), err)
	}
	if err == nil {
		tokens, _ = strconv.Atoi(raw)
	}

	return &Session{ID: sessionID, History: history, TokensUsed: tokens}, nil
}

// Touch refreshes the idle expiry on both session keys.
func (c *redisCache) Touch(ctx context.Context, sessionID string) error {
	pipe := c.client.Pipeline()
	pipe.Expire(ctx, historyKey(sessionID), c.ttl)
	pipe.Expire(ctx, tokensKey(sessionID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("refreshing session ttl: %w", err)
	}
	return nil
}

// AppendTurns records one exchange (typically a user turn and the
// assistant reply together), bumps the advisory token tally, and refreshes
// the TTL. Everything runs in a single pipeline so a successful exchange
// lands atomically. History is never trimmed; only the outgoing prompt
// window is capped.
func (c *redisCache) AppendTurns(ctx context.Context, sessionID string, tokens int, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	payloads := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshaling turn: %w", err)
		}
		payloads = append(payloads, string(data))
	}

	hKey := historyKey(sessionID)
	tKey := tokensKey(sessionID)

	pipe := c.client.Pipeline()
	pipe.RPush(ctx, hKey, payloads...)
	if tokens > 0 {
		pipe.IncrBy(ctx, tKey, int64(tokens))
	}
	pipe.Expire(ctx, hKey, c.ttl)
	pipe.Expire(ctx, tKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", hKey, err)
	}
	return nil
}

// RecentTurns returns the last `limit` turns for building the upstream
// prompt context.
func (c *redisCache) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	vals, err := c.client.LRange(ctx, historyKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", historyKey(sessionID), err)
	}

	turns := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var turn Turn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Delete removes the session outright.
func (c *redisCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, historyKey(sessionID), tokensKey(sessionID)).Err()
}
