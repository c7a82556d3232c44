package quota

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/senpai-platform/senpai/internal/users"
)

func testPolicy() Policy {
	return DefaultPolicy()
}

func baseRecord(now time.Time) *Record {
	return &Record{
		UserID:             uuid.New(),
		RequestWindowStart: now,
		TokenResetAt:       now,
	}
}

func TestLimitsFor(t *testing.T) {
	p := testPolicy()

	std := p.LimitsFor(users.RoleStandard)
	assert.Equal(t, 20, std.Requests)
	assert.Equal(t, 2000, std.Tokens)

	adm := p.LimitsFor(users.RoleAdmin)
	assert.Equal(t, 1000, adm.Requests)
	assert.Equal(t, 10000, adm.Tokens)

	// Unknown roles fall back to the standard tier.
	assert.Equal(t, std, p.LimitsFor("intern"))
}

func TestRequestsAllowed(t *testing.T) {
	p := testPolicy()
	now := time.Now()

	rec := baseRecord(now)
	rec.RequestCount = 19
	assert.True(t, p.RequestsAllowed(rec, users.RoleStandard, now))

	rec.RequestCount = 20
	assert.False(t, p.RequestsAllowed(rec, users.RoleStandard, now))

	// The same count is fine for an admin.
	assert.True(t, p.RequestsAllowed(rec, users.RoleAdmin, now))
}

func TestRequestsAllowedAfterWindowExpiry(t *testing.T) {
	p := testPolicy()
	now := time.Now()

	rec := baseRecord(now.Add(-25 * time.Hour))
	rec.RequestCount = 20

	assert.True(t, p.RequestsAllowed(rec, users.RoleStandard, now))
	assert.Equal(t, 0, EffectiveRequestCount(rec, now))
}

func TestWindowExpiredBoundary(t *testing.T) {
	start := time.Now()

	assert.False(t, WindowExpired(start, start.Add(Window-time.Second)))
	assert.True(t, WindowExpired(start, start.Add(Window)))
	assert.True(t, WindowExpired(start, start.Add(Window+time.Second)))
}

func TestTokensExhausted(t *testing.T) {
	p := testPolicy()
	now := time.Now()

	rec := baseRecord(now)
	rec.TokenUsage = 1999
	assert.False(t, p.TokensExhausted(rec, users.RoleStandard, now))

	rec.TokenUsage = 2000
	assert.True(t, p.TokensExhausted(rec, users.RoleStandard, now))

	// Overshoot past the budget still reads as exhausted.
	rec.TokenUsage = 2150
	assert.True(t, p.TokensExhausted(rec, users.RoleStandard, now))

	// An expired token window reads as zero usage.
	rec.TokenResetAt = now.Add(-25 * time.Hour)
	assert.False(t, p.TokensExhausted(rec, users.RoleStandard, now))
}

func TestTokenWindowIndependentOfRequestWindow(t *testing.T) {
	p := testPolicy()
	now := time.Now()

	rec := baseRecord(now)
	rec.RequestWindowStart = now.Add(-25 * time.Hour)
	rec.RequestCount = 20
	rec.TokenUsage = 2000

	// Request window expired, token window fresh.
	assert.True(t, p.RequestsAllowed(rec, users.RoleStandard, now))
	assert.True(t, p.TokensExhausted(rec, users.RoleStandard, now))
}

func TestMessageTooLarge(t *testing.T) {
	p := testPolicy()

	assert.False(t, p.MessageTooLarge(users.RoleStandard, 2000))
	assert.True(t, p.MessageTooLarge(users.RoleStandard, 2001))
	assert.False(t, p.MessageTooLarge(users.RoleAdmin, 2001))
}

func TestBanActive(t *testing.T) {
	now := time.Now()
	rec := baseRecord(now)

	active, expired := BanActive(rec, now)
	assert.False(t, active)
	assert.False(t, expired)

	reason := "spamming"
	rec.IsBanned = true
	rec.BanReason = &reason

	// Permanent ban: no expiry.
	active, expired = BanActive(rec, now)
	assert.True(t, active)
	assert.False(t, expired)

	future := now.Add(time.Hour)
	rec.BanExpiresAt = &future
	active, expired = BanActive(rec, now)
	assert.True(t, active)
	assert.False(t, expired)

	past := now.Add(-time.Minute)
	rec.BanExpiresAt = &past
	active, expired = BanActive(rec, now)
	assert.False(t, active)
	assert.True(t, expired)
}

func TestStatus(t *testing.T) {
	p := testPolicy()
	now := time.Now()

	rec := baseRecord(now.Add(-time.Hour))
	rec.RequestCount = 5
	rec.TokenUsage = 1200

	st := p.Status(rec, users.RoleStandard, now)

	assert.Equal(t, 5, st.Requests.Used)
	assert.Equal(t, 20, st.Requests.Limit)
	assert.Equal(t, 15, st.Requests.Remaining)
	assert.WithinDuration(t, now.Add(23*time.Hour), st.Requests.ResetAt, time.Second)

	assert.Equal(t, 1200, st.Tokens.Used)
	assert.Equal(t, 2000, st.Tokens.Limit)
	assert.Equal(t, 800, st.Tokens.Remaining)
	assert.False(t, st.IsBanned)
	assert.Nil(t, st.BanReason)
}

func TestStatusExpiredWindows(t *testing.T) {
	p := testPolicy()
	now := time.Now()

	rec := baseRecord(now.Add(-30 * time.Hour))
	rec.RequestCount = 20
	rec.TokenUsage = 2000

	st := p.Status(rec, users.RoleStandard, now)

	assert.Equal(t, 0, st.Requests.Used)
	assert.Equal(t, 20, st.Requests.Remaining)
	assert.WithinDuration(t, now.Add(Window), st.Requests.ResetAt, time.Second)
	assert.Equal(t, 0, st.Tokens.Used)
	assert.WithinDuration(t, now.Add(Window), st.Tokens.ResetAt, time.Second)
}

func TestStatusBanned(t *testing.T) {
	p := testPolicy()
	now := time.Now()

	reason := "abuse"
	expires := now.Add(2 * time.Hour)
	rec := baseRecord(now)
	rec.IsBanned = true
	rec.BanReason = &reason
	rec.BanExpiresAt = &expires

	st := p.Status(rec, users.RoleStandard, now)
	assert.True(t, st.IsBanned)
	assert.Equal(t, &reason, st.BanReason)
	assert.Equal(t, &expires, st.BanExpiresAt)

	// Once the ban lapses the status view no longer reports it.
	st = p.Status(rec, users.RoleStandard, now.Add(3*time.Hour))
	assert.False(t, st.IsBanned)
	assert.Nil(t, st.BanReason)
}
