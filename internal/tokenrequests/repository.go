package tokenrequests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPendingExists is returned when the single-pending-request constraint
// blocks an insert.
var ErrPendingExists = errors.New("a pending token request already exists")

// Repository is the persistence port for token requests.
type Repository interface {
	Insert(ctx context.Context, req *TokenRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TokenRequest, error)
	HasPending(ctx context.Context, userID uuid.UUID) (bool, error)
	CountSubmittedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]TokenRequest, int64, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]TokenRequest, int64, error)
	MarkReviewed(ctx context.Context, id uuid.UUID, status string, reviewerID uuid.UUID, note *string) (*TokenRequest, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const requestColumns = `id, user_id, reason, status, token_usage_at_submission,
	request_count_at_submission, reviewed_by, review_note, created_at, reviewed_at`

func scanRequest(row pgx.Row) (*TokenRequest, error) {
	var req TokenRequest
	err := row.Scan(&req.ID, &req.UserID, &req.Reason, &req.Status,
		&req.TokenUsageAtSubmission, &req.RequestCountAtSubmission,
		&req.ReviewedBy, &req.ReviewNote, &req.CreatedAt, &req.ReviewedAt)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Insert creates a pending request. A partial unique index on
// token_requests(user_id) WHERE status = 'pending' enforces the
// one-pending-per-user invariant even under concurrent submissions.
func (r *postgresRepository) Insert(ctx context.Context, req *TokenRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Status = StatusPending

	err := r.pool.QueryRow(ctx, `
		INSERT INTO token_requests (id, user_id, reason, status,
			token_usage_at_submission, request_count_at_submission)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`, req.ID, req.UserID, req.Reason, req.Status,
		req.TokenUsageAtSubmission, req.RequestCountAtSubmission).Scan(&req.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPendingExists
		}
		return fmt.Errorf("inserting token request: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*TokenRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM token_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("getting token request: %w", err)
	}
	return req, nil
}

func (r *postgresRepository) HasPending(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM token_requests WHERE user_id = $1 AND status = $2)`,
		userID, StatusPending).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking pending request: %w", err)
	}
	return exists, nil
}

func (r *postgresRepository) CountSubmittedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM token_requests WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting submissions: %w", err)
	}
	return count, nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]TokenRequest, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM token_requests WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting token requests: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM token_requests
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing token requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows, total)
}

func (r *postgresRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]TokenRequest, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM token_requests WHERE status = $1`, status).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting token requests: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM token_requests
		 WHERE status = $1
		 ORDER BY created_at ASC
		 LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing token requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows, total)
}

func collectRequests(rows pgx.Rows, total int64) ([]TokenRequest, int64, error) {
	var requests []TokenRequest
	for rows.Next() {
		var req TokenRequest
		if err := rows.Scan(&req.ID, &req.UserID, &req.Reason, &req.Status,
			&req.TokenUsageAtSubmission, &req.RequestCountAtSubmission,
			&req.ReviewedBy, &req.ReviewNote, &req.CreatedAt, &req.ReviewedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning token request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, total, nil
}

// MarkReviewed transitions a pending request to its final status. The
// conditional UPDATE guarantees each request is reviewed exactly once;
// nil is returned when the request was missing or already reviewed.
func (r *postgresRepository) MarkReviewed(ctx context.Context, id uuid.UUID, status string, reviewerID uuid.UUID, note *string) (*TokenRequest, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE token_requests SET
			status = $2,
			reviewed_by = $3,
			review_note = $4,
			reviewed_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING `+requestColumns, id, status, reviewerID, note, StatusPending)

	req, err := scanRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("marking request reviewed: %w", err)
	}
	return req, nil
}
