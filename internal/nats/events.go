package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "SENPAI_EVENTS"
)

// Subject constants.
const (
	SubjectAuditEvent = "senpai.events.audit"
)

// Audit event types.
const (
	EventChatCompleted         = "chat.completed"
	EventQuotaViolation        = "quota.violation"
	EventUserBanned            = "user.banned"
	EventUserUnbanned          = "user.unbanned"
	EventRoleChanged           = "user.role_changed"
	EventTokenRequestSubmitted = "token_request.submitted"
	EventTokenRequestApproved  = "token_request.approved"
	EventTokenRequestRejected  = "token_request.rejected"
)

// Severity levels.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// AuditEvent is published for every enforcement decision and admin action.
type AuditEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	EventType    string    `json:"event_type"`
	Severity     string    `json:"severity"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}
