package conversations

import (
	"time"

	"github.com/google/uuid"
)

// Feedback values for assistant messages.
const (
	FeedbackNone     = "none"
	FeedbackLiked    = "liked"
	FeedbackDisliked = "disliked"
)

// ValidFeedback reports whether v is an accepted feedback value.
func ValidFeedback(v string) bool {
	return v == FeedbackNone || v == FeedbackLiked || v == FeedbackDisliked
}

// Conversation matches the conversations table schema.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message matches the messages table schema.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Tokens         int       `json:"tokens"`
	Feedback       string    `json:"feedback"`
	CreatedAt      time.Time `json:"created_at"`
}

// FeedbackCounts aggregates message feedback for the admin overview.
type FeedbackCounts struct {
	Liked    int64 `json:"liked"`
	Disliked int64 `json:"disliked"`
}
