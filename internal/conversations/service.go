package conversations

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("conversation not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotOwner        = errors.New("conversation belongs to another user")
	ErrInvalidFeedback = errors.New("feedback must be none, liked or disliked")
)

const maxTitleLength = 200

// Service owns conversation persistence and enforces ownership on every
// access. Conversations are the durable record; the session cache is a
// separate, disposable layer.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create starts a new conversation. An empty title gets a default.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}

	conv := &Conversation{UserID: userID, Title: title}
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the user's conversations, most recently active first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.repo.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
}

// Get returns a conversation with its messages, owner only.
func (s *Service) Get(ctx context.Context, userID, conversationID uuid.UUID) (*Conversation, []Message, error) {
	conv, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return nil, nil, err
	}

	messages, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return conv, messages, nil
}

// Delete removes a conversation and its messages, owner only.
func (s *Service) Delete(ctx context.Context, userID, conversationID uuid.UUID) error {
	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, conversationID)
}

// AppendMessage stores one message and bumps the conversation's activity
// timestamp.
func (s *Service) AppendMessage(ctx context.Context, userID, conversationID uuid.UUID, role, content string, tokens int) (*Message, error) {
	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msg := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Tokens:         tokens,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.repo.Touch(ctx, conversationID); err != nil {
		return nil, err
	}
	return msg, nil
}

// SetFeedback records the user's reaction to a message in one of their
// own conversations.
func (s *Service) SetFeedback(ctx context.Context, userID, messageID uuid.UUID, feedback string) error {
	if !ValidFeedback(feedback) {
		return ErrInvalidFeedback
	}

	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}

	if _, err := s.owned(ctx, userID, msg.ConversationID); err != nil {
		return err
	}
	return s.repo.SetFeedback(ctx, messageID, feedback)
}

// Stats aggregates totals for the admin overview.
func (s *Service) Stats(ctx context.Context) (conversations, messages int64, feedback *FeedbackCounts, err error) {
	conversations, err = s.repo.CountConversations(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	messages, err = s.repo.CountMessages(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	feedback, err = s.repo.FeedbackCounts(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	return conversations, messages, feedback, nil
}

func (s *Service) owned(ctx context.Context, userID, conversationID uuid.UUID) (*Conversation, error) {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	if conv.UserID != userID {
		return nil, ErrNotOwner
	}
	return conv, nil
}
