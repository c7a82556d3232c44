package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/senpai-platform/senpai/internal/nats"
)

func TestEntryFromEvent(t *testing.T) {
	userID := uuid.New()
	requestID := uuid.New()

	event := inats.AuditEvent{
		UserID:       userID,
		EventType:    inats.EventTokenRequestApproved,
		Severity:     inats.SeverityInfo,
		ResourceType: "token_request",
		ResourceID:   requestID.String(),
		Details:      "approved by admin",
		Timestamp:    time.Now().UTC(),
	}

	entry := entryFromEvent(event)

	assert.Equal(t, userID, entry.UserID)
	assert.Equal(t, inats.EventTokenRequestApproved, entry.EventType)
	assert.Equal(t, inats.SeverityInfo, entry.Severity)
	assert.Equal(t, "token_request", entry.ResourceType)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, requestID, *entry.ResourceID)

	var details map[string]string
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, "approved by admin", details["message"])
}

func TestEntryFromEventNonUUIDResource(t *testing.T) {
	event := inats.AuditEvent{
		UserID:       uuid.New(),
		EventType:    inats.EventChatCompleted,
		Severity:     inats.SeverityInfo,
		ResourceType: "session",
		ResourceID:   "sess-abc123",
		Details:      "exchange recorded",
		Timestamp:    time.Now().UTC(),
	}

	entry := entryFromEvent(event)
	assert.Nil(t, entry.ResourceID)
	assert.Equal(t, "session", entry.ResourceType)
}

func TestEntryFromEventEmptyResource(t *testing.T) {
	event := inats.AuditEvent{
		UserID:    uuid.New(),
		EventType: inats.EventQuotaViolation,
		Severity:  inats.SeverityWarn,
		Details:   "request limit hit",
		Timestamp: time.Now().UTC(),
	}

	entry := entryFromEvent(event)
	assert.Nil(t, entry.ResourceID)
	assert.NotEqual(t, uuid.Nil, entry.ID)
}
