package conversation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"zabon/realtime-service/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBackend is a mock implementation of Backend for testing
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) FetchConversationMessages(ctx context.Context, chatID, readerID string) ([]*models.Message, error) {
	args := m.Called(ctx, chatID, readerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockBackend) PostMessage(ctx context.Context, chatID, senderID, receiverID, content string) (*models.Message, error) {
	args := m.Called(ctx, chatID, senderID, receiverID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msgAt(id string, offset time.Duration) *models.Message {
	return &models.Message{ID: id, ChatID: "c1", SenderID: "A", ReceiverID: "B", Content: id, CreatedAt: t0.Add(offset)}
}

func ids(messages []*models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestView_LoadTransitions(t *testing.T) {
	backend := new(MockBackend)
	view := NewView(backend, "c1", "B", "A", quietLogger())
	assert.Equal(t, Idle, view.State())

	backend.On("FetchConversationMessages", mock.Anything, "c1", "B").
		Return([]*models.Message{msgAt("m1", 0), msgAt("m2", time.Second)}, nil).Once()

	require.NoError(t, view.Load(context.Background()))
	assert.Equal(t, Loaded, view.State())
	assert.Equal(t, []string{"m1", "m2"}, ids(view.Messages()))
}

func TestView_LoadFailureKeepsLocalMessages(t *testing.T) {
	backend := new(MockBackend)
	view := NewView(backend, "c1", "B", "A", quietLogger())
	boom := errors.New("offline")

	view.MessageArrived(msgAt("pushed", time.Second))
	backend.On("FetchConversationMessages", mock.Anything, "c1", "B").Return(nil, boom).Once()

	err := view.Load(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, view.State())
	assert.ErrorIs(t, view.Err(), boom)
	assert.Equal(t, []string{"pushed"}, ids(view.Messages()))
}

func TestView_OptimisticSendThenFetchIsDeduplicated(t *testing.T) {
	backend := new(MockBackend)
	view := NewView(backend, "c1", "A", "B", quietLogger())

	sent := msgAt("m2", time.Second)
	backend.On("PostMessage", mock.Anything, "c1", "A", "B", "salom").Return(sent, nil).Once()
	backend.On("FetchConversationMessages", mock.Anything, "c1", "A").
		Return([]*models.Message{msgAt("m1", 0), msgAt("m2", time.Second)}, nil).Once()

	_, err := view.Send(context.Background(), "salom")
	require.NoError(t, err)
	view.MessageArrived(sent)
	require.NoError(t, view.Load(context.Background()))

	assert.Equal(t, []string{"m1", "m2"}, ids(view.Messages()))
}

func TestView_SendFailureRestoresDraft(t *testing.T) {
	backend := new(MockBackend)
	view := NewView(backend, "c1", "A", "B", quietLogger())
	boom := errors.New("insert failed")

	backend.On("PostMessage", mock.Anything, "c1", "A", "B", "salom").Return(nil, boom).Once()

	_, err := view.Send(context.Background(), "salom")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "salom", view.Draft())
	assert.Empty(t, view.Messages())
}

func TestView_PushedMessagesMergeInCreatedAtOrder(t *testing.T) {
	backend := new(MockBackend)
	view := NewView(backend, "c1", "B", "A", quietLogger())

	backend.On("FetchConversationMessages", mock.Anything, "c1", "B").
		Return([]*models.Message{msgAt("m1", 0), msgAt("m3", 3*time.Second)}, nil).Once()
	require.NoError(t, view.Load(context.Background()))

	view.MessageArrived(msgAt("m2", 2*time.Second))
	view.MessageArrived(msgAt("m4", 4*time.Second))
	view.MessageArrived(&models.Message{ID: "other", ChatID: "c9", CreatedAt: t0})

	assert.Equal(t, Loaded, view.State())
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(view.Messages()))
}

func TestView_LatePushKeepsReadMark(t *testing.T) {
	backend := new(MockBackend)
	view := NewView(backend, "c1", "B", "A", quietLogger())

	readAt := t0.Add(time.Minute)
	fetched := msgAt("m1", 0)
	fetched.Read = true
	fetched.ReadAt = &readAt

	backend.On("FetchConversationMessages", mock.Anything, "c1", "B").
		Return([]*models.Message{fetched}, nil).Once()
	require.NoError(t, view.Load(context.Background()))

	view.MessageArrived(msgAt("m1", 0))

	messages := view.Messages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Read)
	require.NotNil(t, messages[0].ReadAt)
	assert.True(t, messages[0].ReadAt.Equal(readAt))
}

func TestMessageSet_UpsertReplaces(t *testing.T) {
	set := NewMessageSet()

	assert.True(t, set.Upsert(msgAt("m1", 0)))
	updated := msgAt("m1", 0)
	updated.Read = true
	assert.False(t, set.Upsert(updated))

	require.Equal(t, 1, set.Len())
	assert.True(t, set.Sorted()[0].Read)
}

func TestMessageSet_TieBreakByID(t *testing.T) {
	set := NewMessageSet()
	set.Upsert(msgAt("b", 0))
	set.Upsert(msgAt("a", 0))

	assert.Equal(t, []string{"a", "b"}, ids(set.Sorted()))
}
