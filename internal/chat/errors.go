package chat

import "time"

// Rejection codes returned to clients. Stable across releases; clients
// branch on these, not on messages.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeAccountBanned      = "ACCOUNT_BANNED"
	CodeTokenLimitExceeded = "TOKEN_LIMIT_EXCEEDED"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeUpstreamError      = "UPSTREAM_ERROR"
)

// Rejection is a typed refusal from the gateway. It is both an error
// value for the service layer and the JSON body the handler writes.
type Rejection struct {
	Status       int        `json:"-"`
	Code         string     `json:"code"`
	Message      string     `json:"error"`
	ResetAt      *time.Time `json:"resetAt,omitempty"`
	BanReason    *string    `json:"banReason,omitempty"`
	BanExpiresAt *time.Time `json:"banExpiresAt,omitempty"`
	TokensUsed   int        `json:"tokensUsed,omitempty"`
	TokenLimit   int        `json:"tokenLimit,omitempty"`
}

func (r *Rejection) Error() string {
	return r.Message
}
