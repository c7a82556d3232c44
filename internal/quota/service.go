package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service combines the ledger with the tier policy. It is the only path
// through which request slots and token usage are consumed.
type Service struct {
	ledger Ledger
	policy Policy
	now    func() time.Time
}

func NewService(ledger Ledger, policy Policy) *Service {
	return &Service{
		ledger: ledger,
		policy: policy,
		now:    time.Now,
	}
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Snapshot returns the user's current ledger state, lazily creating the
// row and lifting any ban whose expiry has passed. Expired bans are
// cleared on read; there is no background sweep.
func (s *Service) Snapshot(ctx context.Context, userID uuid.UUID) (*Record, error) {
	cleared, err := s.ledger.ClearBanIfExpired(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cleared {
		slog.Info("expired ban lifted", "user_id", userID)
	}
	return s.ledger.LoadOrInit(ctx, userID)
}

// GetStatus builds the rate-limit-status view for a user.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID, role string) (*Status, error) {
	rec, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.policy.Status(rec, role, s.now()), nil
}

// ConsumeRequestSlot atomically claims one request against the tier's
// limit. The increment is the enforcement act: there is no separate
// check-then-set, so concurrent callers cannot oversubscribe the window.
func (s *Service) ConsumeRequestSlot(ctx context.Context, userID uuid.UUID, role string) (int, bool, error) {
	limit := s.policy.LimitsFor(role).Requests
	count, allowed, err := s.ledger.IncrementRequestIfAllowed(ctx, userID, limit)
	if err != nil {
		return 0, false, fmt.Errorf("consuming request slot: %w", err)
	}
	return count, allowed, nil
}

// RecordUsage adds consumed tokens to the ledger and returns the updated
// window total. The caller decides what to do when the total crosses the
// tier budget; recording itself never fails on overshoot.
func (s *Service) RecordUsage(ctx context.Context, userID uuid.UUID, tokens int) (int, error) {
	return s.ledger.AddTokens(ctx, userID, tokens)
}

// RecordViolation notes a rejected request and returns the running count.
func (s *Service) RecordViolation(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.ledger.RecordViolation(ctx, userID)
}

// Ban marks the user banned. A nil expiresAt is a permanent ban that only
// an explicit unban can lift.
func (s *Service) Ban(ctx context.Context, userID uuid.UUID, reason string, expiresAt *time.Time) error {
	if _, err := s.ledger.LoadOrInit(ctx, userID); err != nil {
		return err
	}
	return s.ledger.ApplyBan(ctx, userID, reason, expiresAt)
}

func (s *Service) Unban(ctx context.Context, userID uuid.UUID) error {
	return s.ledger.ClearBan(ctx, userID)
}

// GrantReset wipes both consumption windows after an approved token
// request and clears the pending flag.
func (s *Service) GrantReset(ctx context.Context, userID uuid.UUID) error {
	return s.ledger.ResetForApproval(ctx, userID)
}

// SetPendingRequest flips the single-pending-request marker.
func (s *Service) SetPendingRequest(ctx context.Context, userID uuid.UUID, pending bool) error {
	if pending {
		if _, err := s.ledger.LoadOrInit(ctx, userID); err != nil {
			return err
		}
	}
	return s.ledger.SetPendingRequest(ctx, userID, pending)
}
