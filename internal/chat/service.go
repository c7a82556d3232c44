package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/senpai-platform/senpai/internal/llm"
	"github.com/senpai-platform/senpai/internal/metrics"
	inats "github.com/senpai-platform/senpai/internal/nats"
	"github.com/senpai-platform/senpai/internal/quota"
	"github.com/senpai-platform/senpai/internal/session"
)

// MaxMessageLength caps a single user message in characters.
const MaxMessageLength = 2000

// Reply is the successful gateway response.
type Reply struct {
	Reply             string `json:"reply"`
	SessionID         string `json:"sessionId"`
	TokensUsed        int    `json:"tokensUsed"`
	CumulativeUsage   int    `json:"cumulativeUsage"`
	TierLimit         int    `json:"tierLimit"`
	TokensRemaining   int    `json:"tokensRemaining"`
	RequestsRemaining int    `json:"requestsRemaining"`
	LimitReached      bool   `json:"limitReached"`
}

// Service is the chat gateway: every message passes through the quota
// checks here before anything reaches the upstream model, and every
// completed exchange is recorded against the ledger before the reply
// returns. The session cache is advisory; the ledger alone decides.
type Service struct {
	quotas       *quota.Service
	cache        session.Cache
	model        llm.Client
	events       *inats.Publisher
	historyTurns int
	now          func() time.Time
}

func NewService(quotas *quota.Service, cache session.Cache, model llm.Client, events *inats.Publisher, historyTurns int) *Service {
	return &Service{
		quotas:       quotas,
		cache:        cache,
		model:        model,
		events:       events,
		historyTurns: historyTurns,
		now:          time.Now,
	}
}

// Handle runs one message through the full gate sequence: ban check,
// request slot claim, token budget gate, upstream call, usage recording,
// session append. A consumed request slot is never refunded — not on a
// token rejection behind it and not on an upstream failure after it.
func (s *Service) Handle(ctx context.Context, userID uuid.UUID, role, sessionID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		metrics.ChatRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, &Rejection{Status: http.StatusBadRequest, Code: CodeInvalidInput, Message: "message is required"}
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		metrics.ChatRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, &Rejection{
			Status:  http.StatusBadRequest,
			Code:    CodeInvalidInput,
			Message: fmt.Sprintf("message exceeds %d characters", MaxMessageLength),
		}
	}

	rec, err := s.quotas.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading quota snapshot: %w", err)
	}

	now := s.now()
	policy := s.quotas.Policy()
	limits := policy.LimitsFor(role)

	if active, _ := quota.BanActive(rec, now); active {
		metrics.ChatRequestsTotal.WithLabelValues("banned").Inc()
		metrics.QuotaRejectionsTotal.WithLabelValues("banned").Inc()
		return nil, &Rejection{
			Status:       http.StatusForbidden,
			Code:         CodeAccountBanned,
			Message:      "account is banned",
			BanReason:    rec.BanReason,
			BanExpiresAt: rec.BanExpiresAt,
		}
	}

	count, allowed, err := s.quotas.ConsumeRequestSlot(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.recordViolation(ctx, userID, sessionID, "request limit hit")
		metrics.ChatRequestsTotal.WithLabelValues("rate_limit").Inc()
		metrics.QuotaRejectionsTotal.WithLabelValues("rate_limit").Inc()

		resetAt := rec.RequestWindowStart.Add(quota.Window)
		return nil, &Rejection{
			Status:  http.StatusTooManyRequests,
			Code:    CodeRateLimitExceeded,
			Message: fmt.Sprintf("request limit of %d per 24h reached", limits.Requests),
			ResetAt: &resetAt,
		}
	}

	// The slot claimed above stays consumed when the token gate rejects:
	// retrying an exhausted budget burns through the request allowance.
	estimate := llm.EstimateTokens(message)
	if policy.TokensExhausted(rec, role, now) || policy.MessageTooLarge(role, estimate) {
		s.recordViolation(ctx, userID, sessionID, "token budget exhausted")
		metrics.ChatRequestsTotal.WithLabelValues("token_limit").Inc()
		metrics.QuotaRejectionsTotal.WithLabelValues("token_limit").Inc()

		resetAt := rec.TokenResetAt.Add(quota.Window)
		return nil, &Rejection{
			Status:     http.StatusForbidden,
			Code:       CodeTokenLimitExceeded,
			Message:    "token budget exhausted, request more tokens or wait for the window to reset",
			ResetAt:    &resetAt,
			TokensUsed: quota.EffectiveTokenUsage(rec, now),
			TokenLimit: limits.Tokens,
		}
	}

	messages := s.buildPrompt(ctx, userID, sessionID, message)

	comp, err := s.model.Complete(ctx, messages)
	if err != nil {
		// The request slot stays consumed: the user spent their attempt.
		slog.Error("upstream completion failed", "error", err, "user_id", userID)
		metrics.ChatRequestsTotal.WithLabelValues("upstream_error").Inc()
		return nil, &Rejection{
			Status:  http.StatusBadGateway,
			Code:    CodeUpstreamError,
			Message: "the model is unavailable right now, try again shortly",
		}
	}

	// Usage is recorded exactly once per successful completion. If the
	// ledger write fails the whole request fails; an unrecorded reply
	// would make the budget unenforceable.
	usage, err := s.quotas.RecordUsage(ctx, userID, comp.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("recording token usage: %w", err)
	}
	metrics.TokensConsumedTotal.Add(float64(comp.TotalTokens))

	s.appendExchange(ctx, userID, sessionID, message, comp)

	s.publishEvent(ctx, inats.AuditEvent{
		UserID:       userID,
		EventType:    inats.EventChatCompleted,
		Severity:     inats.SeverityInfo,
		ResourceType: "session",
		ResourceID:   sessionID,
		Details:      fmt.Sprintf("exchange used %d tokens", comp.TotalTokens),
		Timestamp:    s.now(),
	})
	metrics.ChatRequestsTotal.WithLabelValues("ok").Inc()

	tokensRemaining := limits.Tokens - usage
	if tokensRemaining < 0 {
		tokensRemaining = 0
	}

	return &Reply{
		Reply:             comp.Content,
		SessionID:         sessionID,
		TokensUsed:        comp.TotalTokens,
		CumulativeUsage:   usage,
		TierLimit:         limits.Tokens,
		TokensRemaining:   tokensRemaining,
		RequestsRemaining: limits.Requests - count,
		LimitReached:      usage >= limits.Tokens,
	}, nil
}

// History returns the cached conversation for a session.
func (s *Service) History(ctx context.Context, userID uuid.UUID, sessionID string) (*session.Session, error) {
	sess, err := s.cache.Get(ctx, cacheID(userID, sessionID))
	if err != nil {
		return nil, err
	}
	sess.ID = sessionID
	return sess, nil
}

// EndSession drops the cached conversation. Ledger counters are untouched.
func (s *Service) EndSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	return s.cache.Delete(ctx, cacheID(userID, sessionID))
}

// cacheID scopes session keys per user so one user cannot read another's
// history by guessing session IDs.
func cacheID(userID uuid.UUID, sessionID string) string {
	return userID.String() + ":" + sessionID
}

// buildPrompt assembles the upstream message list: persona, the last few
// cached turns, then the new message. Cache failures degrade to a
// context-free prompt instead of blocking the exchange.
func (s *Service) buildPrompt(ctx context.Context, userID uuid.UUID, sessionID, message string) []llm.Message {
	messages := make([]llm.Message, 0, s.historyTurns*2+2)
	messages = append(messages, llm.Message{Role: "system", Content: llm.SystemPrompt})

	turns, err := s.cache.RecentTurns(ctx, cacheID(userID, sessionID), s.historyTurns*2)
	if err != nil {
		slog.Warn("loading session history", "error", err, "session_id", sessionID)
	}
	for _, turn := range turns {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}

	return append(messages, llm.Message{Role: "user", Content: message})
}

// appendExchange caches the completed exchange. Best effort: a cache
// write failure loses context, never quota accounting.
func (s *Service) appendExchange(ctx context.Context, userID uuid.UUID, sessionID, message string, comp *llm.Completion) {
	now := s.now()
	err := s.cache.AppendTurns(ctx, cacheID(userID, sessionID), comp.TotalTokens,
		session.Turn{Role: session.RoleUser, Content: message, Timestamp: now},
		session.Turn{Role: session.RoleAssistant, Content: comp.Content, Timestamp: now},
	)
	if err != nil {
		slog.Warn("caching exchange", "error", err, "session_id", sessionID)
	}
}

func (s *Service) recordViolation(ctx context.Context, userID uuid.UUID, sessionID, reason string) {
	count, err := s.quotas.RecordViolation(ctx, userID)
	if err != nil {
		slog.Warn("recording violation", "error", err, "user_id", userID)
	}

	s.publishEvent(ctx, inats.AuditEvent{
		UserID:       userID,
		EventType:    inats.EventQuotaViolation,
		Severity:     inats.SeverityWarn,
		ResourceType: "session",
		ResourceID:   sessionID,
		Details:      fmt.Sprintf("%s (violation #%d)", reason, count),
		Timestamp:    s.now(),
	})
}

func (s *Service) publishEvent(ctx context.Context, event inats.AuditEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishAuditEvent(ctx, event); err != nil {
		slog.Warn("publishing audit event", "error", err, "event_type", event.EventType)
	}
}
