package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger is the persistence port for per-user quota counters. All
// enforcement decisions are made against this store; concurrent calls for
// the same user serialize on the row.
type Ledger interface {
	LoadOrInit(ctx context.Context, userID uuid.UUID) (*Record, error)
	IncrementRequestIfAllowed(ctx context.Context, userID uuid.UUID, limit int) (int, bool, error)
	AddTokens(ctx context.Context, userID uuid.UUID, amount int) (int, error)
	RecordViolation(ctx context.Context, userID uuid.UUID) (int, error)
	ApplyBan(ctx context.Context, userID uuid.UUID, reason string, expiresAt *time.Time) error
	ClearBan(ctx context.Context, userID uuid.UUID) error
	ClearBanIfExpired(ctx context.Context, userID uuid.UUID) (bool, error)
	ResetForApproval(ctx context.Context, userID uuid.UUID) error
	SetPendingRequest(ctx context.Context, userID uuid.UUID, pending bool) error
}

type postgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) Ledger {
	return &postgresLedger{pool: pool}
}

const recordColumns = `user_id, request_count, request_window_start, token_usage, token_reset_at,
	is_banned, ban_reason, ban_expires_at, violation_count, has_pending_token_request,
	last_request_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.UserID, &rec.RequestCount, &rec.RequestWindowStart, &rec.TokenUsage, &rec.TokenResetAt,
		&rec.IsBanned, &rec.BanReason, &rec.BanExpiresAt, &rec.ViolationCount, &rec.HasPendingTokenRequest,
		&rec.LastRequestAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadOrInit fetches the user's quota row, creating a zeroed one on first
// contact. The insert is idempotent under races.
func (l *postgresLedger) LoadOrInit(ctx context.Context, userID uuid.UUID) (*Record, error) {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO user_quotas (user_id, request_window_start, token_reset_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("initializing quota record: %w", err)
	}

	row := l.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM user_quotas WHERE user_id = $1`, userID)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("loading quota record: %w", err)
	}
	return rec, nil
}

// IncrementRequestIfAllowed consumes one request slot if the user is under
// limit. Window expiry, the limit check, and the increment fold into a
// single conditional UPDATE so that under N concurrent calls with M slots
// remaining exactly M succeed. Returns the post-increment count and
// whether the slot was granted.
func (l *postgresLedger) IncrementRequestIfAllowed(ctx context.Context, userID uuid.UUID, limit int) (int, bool, error) {
	row := l.pool.QueryRow(ctx, `
		UPDATE user_quotas SET
			request_count = CASE
				WHEN request_window_start <= NOW() - INTERVAL '24 hours' THEN 1
				ELSE request_count + 1
			END,
			request_window_start = CASE
				WHEN request_window_start <= NOW() - INTERVAL '24 hours' THEN NOW()
				ELSE request_window_start
			END,
			last_request_at = NOW(),
			updated_at = NOW()
		WHERE user_id = $1
			AND (request_count < $2 OR request_window_start <= NOW() - INTERVAL '24 hours')
		RETURNING request_count`, userID, limit)

	var count int
	if err := row.Scan(&count); err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("incrementing request count: %w", err)
	}
	return count, true, nil
}

// AddTokens records consumed tokens against the current token window,
// resetting the window first if it has expired. Negative amounts are
// dropped: the counter only moves forward within a window. Returns the
// updated usage.
func (l *postgresLedger) AddTokens(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	if amount < 0 {
		slog.Warn("ignoring negative token amount", "user_id", userID, "amount", amount)
		amount = 0
	}

	row := l.pool.QueryRow(ctx, `
		UPDATE user_quotas SET
			token_usage = CASE
				WHEN token_reset_at <= NOW() - INTERVAL '24 hours' THEN $2
				ELSE token_usage + $2
			END,
			token_reset_at = CASE
				WHEN token_reset_at <= NOW() - INTERVAL '24 hours' THEN NOW()
				ELSE token_reset_at
			END,
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING token_usage`, userID, amount)

	var usage int
	if err := row.Scan(&usage); err != nil {
		return 0, fmt.Errorf("adding token usage: %w", err)
	}
	return usage, nil
}

// RecordViolation bumps the violation counter and returns the new total.
func (l *postgresLedger) RecordViolation(ctx context.Context, userID uuid.UUID) (int, error) {
	row := l.pool.QueryRow(ctx, `
		UPDATE user_quotas SET
			violation_count = violation_count + 1,
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING violation_count`, userID)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("recording violation: %w", err)
	}
	return count, nil
}

func (l *postgresLedger) ApplyBan(ctx context.Context, userID uuid.UUID, reason string, expiresAt *time.Time) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE user_quotas SET
			is_banned = TRUE,
			ban_reason = $2,
			ban_expires_at = $3,
			updated_at = NOW()
		WHERE user_id = $1`, userID, reason, expiresAt)
	if err != nil {
		return fmt.Errorf("applying ban: %w", err)
	}
	return nil
}

func (l *postgresLedger) ClearBan(ctx context.Context, userID uuid.UUID) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE user_quotas SET
			is_banned = FALSE,
			ban_reason = NULL,
			ban_expires_at = NULL,
			updated_at = NOW()
		WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("clearing ban: %w", err)
	}
	return nil
}

// ClearBanIfExpired lifts a ban whose expiry has passed. Permanent bans
// (NULL expiry) are never touched. Returns whether a ban was cleared.
func (l *postgresLedger) ClearBanIfExpired(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		UPDATE user_quotas SET
			is_banned = FALSE,
			ban_reason = NULL,
			ban_expires_at = NULL,
			updated_at = NOW()
		WHERE user_id = $1
			AND is_banned
			AND ban_expires_at IS NOT NULL
			AND ban_expires_at <= NOW()`, userID)
	if err != nil {
		return false, fmt.Errorf("clearing expired ban: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetForApproval zeroes both windows after an admin grants a token
// request, giving the user a fresh allowance immediately.
func (l *postgresLedger) ResetForApproval(ctx context.Context, userID uuid.UUID) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE user_quotas SET
			request_count = 0,
			request_window_start = NOW(),
			token_usage = 0,
			token_reset_at = NOW(),
			has_pending_token_request = FALSE,
			updated_at = NOW()
		WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("resetting quota for approval: %w", err)
	}
	return nil
}

func (l *postgresLedger) SetPendingRequest(ctx context.Context, userID uuid.UUID, pending bool) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE user_quotas SET
			has_pending_token_request = $2,
			updated_at = NOW()
		WHERE user_id = $1`, userID, pending)
	if err != nil {
		return fmt.Errorf("setting pending request flag: %w", err)
	}
	return nil
}
