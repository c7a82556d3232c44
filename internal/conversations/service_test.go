package conversations

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	convs    map[uuid.UUID]*Conversation
	messages map[uuid.UUID]*Message
}

func newMemRepo() *memRepo {
	return &memRepo{
		convs:    make(map[uuid.UUID]*Conversation),
		messages: make(map[uuid.UUID]*Message),
	}
}

func (m *memRepo) Create(_ context.Context, conv *Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = conv.CreatedAt
	stored := *conv
	m.convs[conv.ID] = &stored
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Conversation, error) {
	conv, ok := m.convs[id]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (m *memRepo) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]Conversation, int64, error) {
	var out []Conversation
	for _, conv := range m.convs {
		if conv.UserID == userID {
			out = append(out, *conv)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.convs, id)
	for msgID, msg := range m.messages {
		if msg.ConversationID == id {
			delete(m.messages, msgID)
		}
	}
	return nil
}

func (m *memRepo) Touch(_ context.Context, id uuid.UUID) error {
	if conv, ok := m.convs[id]; ok {
		conv.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memRepo) InsertMessage(_ context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Feedback == "" {
		msg.Feedback = FeedbackNone
	}
	msg.CreatedAt = time.Now()
	stored := *msg
	m.messages[msg.ID] = &stored
	return nil
}

func (m *memRepo) ListMessages(_ context.Context, conversationID uuid.UUID) ([]Message, error) {
	var out []Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memRepo) GetMessage(_ context.Context, id uuid.UUID) (*Message, error) {
	msg, ok := m.messages[id]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

func (m *memRepo) SetFeedback(_ context.Context, messageID uuid.UUID, feedback string) error {
	if msg, ok := m.messages[messageID]; ok {
		msg.Feedback = feedback
	}
	return nil
}

func (m *memRepo) CountConversations(_ context.Context) (int64, error) {
	return int64(len(m.convs)), nil
}

func (m *memRepo) CountMessages(_ context.Context) (int64, error) {
	return int64(len(m.messages)), nil
}

func (m *memRepo) FeedbackCounts(_ context.Context) (*FeedbackCounts, error) {
	counts := &FeedbackCounts{}
	for _, msg := range m.messages {
		switch msg.Feedback {
		case FeedbackLiked:
			counts.Liked++
		case FeedbackDisliked:
			counts.Disliked++
		}
	}
	return counts, nil
}

func TestCreateDefaultsTitle(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	conv, err := svc.Create(ctx, uuid.New(), "  ")
	require.NoError(t, err)
	assert.Equal(t, "New conversation", conv.Title)

	long := strings.Repeat("あ", 300)
	conv, err = svc.Create(ctx, uuid.New(), long)
	require.NoError(t, err)
	assert.Equal(t, 200, len([]rune(conv.Title)))
}

func TestGetEnforcesOwnership(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()
	owner := uuid.New()

	conv, err := svc.Create(ctx, owner, "my waifus tier list")
	require.NoError(t, err)

	_, _, err = svc.Get(ctx, uuid.New(), conv.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, _, err = svc.Get(ctx, owner, conv.ID)
	assert.NoError(t, err)

	_, _, err = svc.Get(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageAndGet(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()
	owner := uuid.New()

	conv, err := svc.Create(ctx, owner, "chat")
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, owner, conv.ID, "user", "hello", 5)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, owner, conv.ID, "assistant", "yo", 3)
	require.NoError(t, err)

	_, messages, err := svc.Get(ctx, owner, conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	_, err = svc.AppendMessage(ctx, uuid.New(), conv.ID, "user", "sneaky", 1)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSetFeedback(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()
	owner := uuid.New()

	conv, err := svc.Create(ctx, owner, "chat")
	require.NoError(t, err)
	msg, err := svc.AppendMessage(ctx, owner, conv.ID, "assistant", "take", 3)
	require.NoError(t, err)

	require.NoError(t, svc.SetFeedback(ctx, owner, msg.ID, FeedbackLiked))
	stored, _ := repo.GetMessage(ctx, msg.ID)
	assert.Equal(t, FeedbackLiked, stored.Feedback)

	assert.ErrorIs(t, svc.SetFeedback(ctx, owner, msg.ID, "meh"), ErrInvalidFeedback)
	assert.ErrorIs(t, svc.SetFeedback(ctx, uuid.New(), msg.ID, FeedbackLiked), ErrNotOwner)
	assert.ErrorIs(t, svc.SetFeedback(ctx, owner, uuid.New(), FeedbackLiked), ErrMessageNotFound)
}

func TestDeleteCascades(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()
	owner := uuid.New()

	conv, err := svc.Create(ctx, owner, "chat")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, owner, conv.ID, "user", "hi", 1)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, owner, conv.ID))

	count, _ := repo.CountMessages(ctx)
	assert.Equal(t, int64(0), count)
}

func TestStats(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()
	owner := uuid.New()

	conv, err := svc.Create(ctx, owner, "chat")
	require.NoError(t, err)
	liked, err := svc.AppendMessage(ctx, owner, conv.ID, "assistant", "a", 1)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, owner, conv.ID, "assistant", "b", 1)
	require.NoError(t, err)
	require.NoError(t, svc.SetFeedback(ctx, owner, liked.ID, FeedbackLiked))

	convs, msgs, feedback, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), convs)
	assert.Equal(t, int64(2), msgs)
	assert.Equal(t, int64(1), feedback.Liked)
	assert.Equal(t, int64(0), feedback.Disliked)
}
