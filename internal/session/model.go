package session

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a session's conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the cached view of one conversation: its full history plus
// an advisory token tally. The tally mirrors the persistent ledger for
// display; enforcement never reads it.
type Session struct {
	ID         string `json:"id"`
	History    []Turn `json:"history"`
	TokensUsed int    `json:"tokens_used"`
}
