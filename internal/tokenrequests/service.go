package tokenrequests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	inats "github.com/senpai-platform/senpai/internal/nats"
	"github.com/senpai-platform/senpai/internal/quota"
)

var (
	ErrReasonRequired  = errors.New("a reason is required")
	ErrReasonTooLong   = fmt.Errorf("reason exceeds %d characters", MaxReasonLength)
	ErrDailyCapReached = errors.New("daily token request limit reached")
	ErrNoteRequired    = errors.New("a rejection note is required")
	ErrNotPending      = errors.New("request is not pending")
	ErrNotFound        = errors.New("token request not found")
)

// Service implements the token request workflow: users under quota
// pressure file a request, admins approve (resetting both ledger windows)
// or reject it.
type Service struct {
	repo   Repository
	quotas *quota.Service
	events *inats.Publisher
	now    func() time.Time
}

func NewService(repo Repository, quotas *quota.Service, events *inats.Publisher) *Service {
	return &Service{
		repo:   repo,
		quotas: quotas,
		events: events,
		now:    time.Now,
	}
}

// localMidnight is the start of the current calendar day in server-local
// time; the daily submission cap resets there, not on a rolling window.
func (s *Service) localMidnight() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// Eligibility reports whether the user may file a request right now and
// how many submissions they have left today.
func (s *Service) Eligibility(ctx context.Context, userID uuid.UUID) (*Eligibility, error) {
	pending, err := s.repo.HasPending(ctx, userID)
	if err != nil {
		return nil, err
	}

	submitted, err := s.repo.CountSubmittedSince(ctx, userID, s.localMidnight())
	if err != nil {
		return nil, err
	}

	remaining := DailySubmissionCap - submitted
	if remaining < 0 {
		remaining = 0
	}

	elig := &Eligibility{CanRequest: true, RemainingToday: remaining}
	switch {
	case pending:
		elig.CanRequest = false
		elig.Reason = "a request is already awaiting review"
	case remaining == 0:
		elig.CanRequest = false
		elig.Reason = "daily request limit reached, try again tomorrow"
	}
	return elig, nil
}

// Submit files a new pending request. At most one request may be pending
// per user, and at most three may be filed per calendar day.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, reason string) (*TokenRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return nil, ErrReasonTooLong
	}

	pending, err := s.repo.HasPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrPendingExists
	}

	submitted, err := s.repo.CountSubmittedSince(ctx, userID, s.localMidnight())
	if err != nil {
		return nil, err
	}
	if submitted >= DailySubmissionCap {
		return nil, ErrDailyCapReached
	}

	req := &TokenRequest{UserID: userID, Reason: reason}

	// Freeze current consumption so the reviewer sees what prompted the
	// request. Best effort; a missing snapshot never blocks submission.
	if rec, err := s.quotas.Snapshot(ctx, userID); err != nil {
		slog.Warn("snapshotting usage", "error", err, "user_id", userID)
	} else {
		now := s.now()
		req.TokenUsageAtSubmission = quota.EffectiveTokenUsage(rec, now)
		req.RequestCountAtSubmission = quota.EffectiveRequestCount(rec, now)
	}

	if err := s.repo.Insert(ctx, req); err != nil {
		return nil, err
	}

	if err := s.quotas.SetPendingRequest(ctx, userID, true); err != nil {
		slog.Warn("setting pending flag", "error", err, "user_id", userID)
	}

	s.publishEvent(ctx, userID, inats.EventTokenRequestSubmitted, inats.SeverityInfo, req.ID, "token request submitted")
	return req, nil
}

// Approve finalizes a pending request and resets both of the user's
// consumption windows. The conditional status transition in the
// repository makes double review impossible; the ledger reset that
// follows is idempotent.
func (s *Service) Approve(ctx context.Context, id, reviewerID uuid.UUID, note *string) (*TokenRequest, error) {
	req, err := s.review(ctx, id, StatusApproved, reviewerID, note)
	if err != nil {
		return nil, err
	}

	if err := s.quotas.GrantReset(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("resetting quota after approval: %w", err)
	}

	s.publishEvent(ctx, req.UserID, inats.EventTokenRequestApproved, inats.SeverityInfo, req.ID, "token request approved, windows reset")
	return req, nil
}

// Reject finalizes a pending request without touching the user's
// counters. A rejected request still counts toward the daily cap. Unlike
// approval, a rejection must carry a note: the user deserves to know why.
func (s *Service) Reject(ctx context.Context, id, reviewerID uuid.UUID, note *string) (*TokenRequest, error) {
	if note == nil || strings.TrimSpace(*note) == "" {
		return nil, ErrNoteRequired
	}
	trimmed := strings.TrimSpace(*note)
	note = &trimmed

	req, err := s.review(ctx, id, StatusRejected, reviewerID, note)
	if err != nil {
		return nil, err
	}

	if err := s.quotas.SetPendingRequest(ctx, req.UserID, false); err != nil {
		slog.Warn("clearing pending flag", "error", err, "user_id", req.UserID)
	}

	s.publishEvent(ctx, req.UserID, inats.EventTokenRequestRejected, inats.SeverityInfo, req.ID, "token request rejected")
	return req, nil
}

func (s *Service) review(ctx context.Context, id uuid.UUID, status string, reviewerID uuid.UUID, note *string) (*TokenRequest, error) {
	req, err := s.repo.MarkReviewed(ctx, id, status, reviewerID, note)
	if err != nil {
		return nil, err
	}
	if req == nil {
		existing, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrNotFound
		}
		return nil, ErrNotPending
	}
	return req, nil
}

// ListMine returns the user's own requests, newest first.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]TokenRequest, int64, error) {
	limit, offset := pagination(page, pageSize)
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context, page, pageSize int) ([]TokenRequest, int64, error) {
	limit, offset := pagination(page, pageSize)
	return s.repo.ListByStatus(ctx, StatusPending, limit, offset)
}

func pagination(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return pageSize, (page - 1) * pageSize
}

func (s *Service) publishEvent(ctx context.Context, userID uuid.UUID, eventType, severity string, resourceID uuid.UUID, details string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishAuditEvent(ctx, inats.AuditEvent{
		UserID:       userID,
		EventType:    eventType,
		Severity:     severity,
		ResourceType: "token_request",
		ResourceID:   resourceID.String(),
		Details:      details,
		Timestamp:    s.now(),
	})
	if err != nil {
		slog.Warn("publishing audit event", "error", err, "event_type", eventType)
	}
}
