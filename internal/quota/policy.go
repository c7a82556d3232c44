package quota

import (
	"time"

	"github.com/senpai-platform/senpai/internal/config"
	"github.com/senpai-platform/senpai/internal/users"
)

// Window is the fixed length of both the request and token windows. The
// two windows run on independent clocks (a token reset does not move the
// request window, and vice versa).
const Window = 24 * time.Hour

// Limits is one quota tier.
type Limits struct {
	Requests int
	Tokens   int
}

// Policy is the pure decision layer: no I/O, the clock is always passed
// in so window arithmetic is deterministic under test.
type Policy struct {
	standard Limits
	admin    Limits
}

func NewPolicy(cfg config.LimitsConfig) Policy {
	return Policy{
		standard: Limits{Requests: cfg.StandardRequests, Tokens: cfg.StandardTokens},
		admin:    Limits{Requests: cfg.AdminRequests, Tokens: cfg.AdminTokens},
	}
}

// DefaultPolicy returns the fixed production tiers: standard 20 requests /
// 2000 tokens per 24h, admin 1000 requests / 10000 tokens per 24h.
func DefaultPolicy() Policy {
	return Policy{
		standard: Limits{Requests: 20, Tokens: 2000},
		admin:    Limits{Requests: 1000, Tokens: 10000},
	}
}

func (p Policy) LimitsFor(role string) Limits {
	if role == users.RoleAdmin {
		return p.admin
	}
	return p.standard
}

// WindowExpired reports whether a window that began at start has run its
// full 24 hours as of now.
func WindowExpired(start, now time.Time) bool {
	return !now.Before(start.Add(Window))
}

// EffectiveRequestCount is the request count after accounting for an
// expired window (an expired window reads as zero even before the
// persisted reset lands).
func EffectiveRequestCount(rec *Record, now time.Time) int {
	if WindowExpired(rec.RequestWindowStart, now) {
		return 0
	}
	return rec.RequestCount
}

// EffectiveTokenUsage is the token usage after accounting for an expired
// token window.
func EffectiveTokenUsage(rec *Record, now time.Time) int {
	if WindowExpired(rec.TokenResetAt, now) {
		return 0
	}
	return rec.TokenUsage
}

// RequestsAllowed reports whether one more quota-consuming request fits
// under the tier's request limit.
func (p Policy) RequestsAllowed(rec *Record, role string, now time.Time) bool {
	return EffectiveRequestCount(rec, now) < p.LimitsFor(role).Requests
}

// TokensExhausted reports whether the user's recorded usage has reached
// the tier's token budget. The pre-flight gate rejects only on literal
// exhaustion: a user below the limit may overshoot on their final
// exchange, and the overshoot is recorded in full.
func (p Policy) TokensExhausted(rec *Record, role string, now time.Time) bool {
	return EffectiveTokenUsage(rec, now) >= p.LimitsFor(role).Tokens
}

// MessageTooLarge reports whether a single message's estimated cost
// exceeds the entire tier budget; such a request can never succeed, so it
// is rejected before the upstream call.
func (p Policy) MessageTooLarge(role string, estimatedTokens int) bool {
	return estimatedTokens > p.LimitsFor(role).Tokens
}

// BanActive reports whether the record carries a ban that is still in
// force at now. Expired reports whether a ban exists but has lapsed (the
// caller should clear it; unban is a side effect of the check, not a
// scheduled job).
func BanActive(rec *Record, now time.Time) (active, expired bool) {
	if !rec.IsBanned {
		return false, false
	}
	if rec.BanExpiresAt != nil && !rec.BanExpiresAt.After(now) {
		return false, true
	}
	return true, false
}

// Status assembles the rate-limit-status view from a ledger snapshot.
func (p Policy) Status(rec *Record, role string, now time.Time) *Status {
	limits := p.LimitsFor(role)

	reqUsed := EffectiveRequestCount(rec, now)
	reqResetAt := rec.RequestWindowStart.Add(Window)
	if WindowExpired(rec.RequestWindowStart, now) {
		reqResetAt = now.Add(Window)
	}

	tokUsed := EffectiveTokenUsage(rec, now)
	tokResetAt := rec.TokenResetAt.Add(Window)
	if WindowExpired(rec.TokenResetAt, now) {
		tokResetAt = now.Add(Window)
	}

	active, _ := BanActive(rec, now)
	st := &Status{
		Requests: WindowStatus{
			Used:      reqUsed,
			Limit:     limits.Requests,
			Remaining: limits.Requests - reqUsed,
			ResetAt:   reqResetAt,
		},
		Tokens: WindowStatus{
			Used:      tokUsed,
			Limit:     limits.Tokens,
			Remaining: limits.Tokens - tokUsed,
			ResetAt:   tokResetAt,
		},
		IsBanned: active,
	}
	if active {
		st.BanReason = rec.BanReason
		st.BanExpiresAt = rec.BanExpiresAt
	}
	return st
}
