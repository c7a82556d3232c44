package tokenrequests

import (
	"time"

	"github.com/google/uuid"
)

// Request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// MaxReasonLength caps the justification text.
const MaxReasonLength = 500

// DailySubmissionCap limits how many requests a user may file per local
// calendar day, counting rejected ones.
const DailySubmissionCap = 3

// TokenRequest matches the token_requests table schema. The two snapshot
// columns freeze the user's consumption at submission time so reviewers
// see the pressure the user was under, not the current counters.
type TokenRequest struct {
	ID                       uuid.UUID  `json:"id"`
	UserID                   uuid.UUID  `json:"user_id"`
	Reason                   string     `json:"reason"`
	Status                   string     `json:"status"`
	TokenUsageAtSubmission   int        `json:"token_usage_at_submission"`
	RequestCountAtSubmission int        `json:"request_count_at_submission"`
	ReviewedBy               *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewNote               *string    `json:"review_note,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	ReviewedAt               *time.Time `json:"reviewed_at,omitempty"`
}

// Eligibility is the response for GET /token-requests/can-request.
type Eligibility struct {
	CanRequest     bool   `json:"canRequest"`
	Reason         string `json:"reason,omitempty"`
	RemainingToday int    `json:"remainingToday"`
}
