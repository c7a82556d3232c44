package quota

import (
	"time"

	"github.com/google/uuid"
)

// Record matches the user_quotas table schema. It is the persisted source
// of truth for a user's consumption counters; the session cache is never
// consulted for enforcement.
type Record struct {
	UserID                 uuid.UUID  `json:"user_id"`
	RequestCount           int        `json:"request_count"`
	RequestWindowStart     time.Time  `json:"request_window_start"`
	TokenUsage             int        `json:"token_usage"`
	TokenResetAt           time.Time  `json:"token_reset_at"`
	IsBanned               bool       `json:"is_banned"`
	BanReason              *string    `json:"ban_reason,omitempty"`
	BanExpiresAt           *time.Time `json:"ban_expires_at,omitempty"`
	ViolationCount         int        `json:"violation_count"`
	HasPendingTokenRequest bool       `json:"has_pending_token_request"`
	LastRequestAt          *time.Time `json:"last_request_at,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// WindowStatus is one half of the rate-limit-status response.
type WindowStatus struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Status is the API response for GET /rate-limit-status/{userID}.
type Status struct {
	Requests     WindowStatus `json:"requests"`
	Tokens       WindowStatus `json:"tokens"`
	IsBanned     bool         `json:"isBanned"`
	BanReason    *string      `json:"banReason,omitempty"`
	BanExpiresAt *time.Time   `json:"banExpiresAt,omitempty"`
}
