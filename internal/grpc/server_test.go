package grpc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"zabon/realtime-service/internal/models"
	"zabon/realtime-service/internal/notify"
	"zabon/realtime-service/internal/repository"
	"zabon/realtime-service/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	pb "github.com/kegazani/metachat-proto/chat"
)

// MockChatService is a mock implementation of service.ChatService for testing
type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Chat, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *MockChatService) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *MockChatService) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Chat), args.Error(1)
}

func (m *MockChatService) PostMessage(ctx context.Context, chatID, senderID, receiverID, content string) (*models.Message, error) {
	args := m.Called(ctx, chatID, senderID, receiverID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockChatService) FetchConversationMessages(ctx context.Context, chatID, readerID string) ([]*models.Message, error) {
	args := m.Called(ctx, chatID, readerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockChatService) MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockChatService) SubscribeToIncoming(userID string, onMessage notify.Handler) (notify.Subscription, error) {
	args := m.Called(userID, onMessage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(notify.Subscription), args.Error(1)
}

func newTestServer() (*ChatServer, *MockChatService) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := new(MockChatService)
	return NewChatServer(svc, logger), svc
}

func TestChatServer_CreateChat(t *testing.T) {
	server, svc := newTestServer()
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	svc.On("GetOrCreateConversation", mock.Anything, "A", "B").
		Return(&models.Chat{ID: "c1", UserID1: "A", UserID2: "B", CreatedAt: ts, UpdatedAt: ts}, nil)

	resp, err := server.CreateChat(context.Background(), &pb.CreateChatRequest{UserId1: "A", UserId2: "B"})
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.Chat.Id)
	assert.Equal(t, ts, resp.Chat.CreatedAt.AsTime())
}

func TestChatServer_CreateChat_InvalidArguments(t *testing.T) {
	server, svc := newTestServer()
	svc.On("GetOrCreateConversation", mock.Anything, "A", "A").Return(nil, service.ErrSelfChat)

	_, err := server.CreateChat(context.Background(), &pb.CreateChatRequest{UserId1: "A"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = server.CreateChat(context.Background(), &pb.CreateChatRequest{UserId1: "A", UserId2: "A"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestChatServer_SendMessage_DerivesReceiver(t *testing.T) {
	server, svc := newTestServer()
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	svc.On("GetChat", mock.Anything, "c1").Return(&models.Chat{ID: "c1", UserID1: "A", UserID2: "B"}, nil)
	svc.On("PostMessage", mock.Anything, "c1", "B", "A", "salom").
		Return(&models.Message{ID: "m1", ChatID: "c1", SenderID: "B", ReceiverID: "A", Content: "salom", CreatedAt: ts}, nil)

	resp, err := server.SendMessage(context.Background(), &pb.SendMessageRequest{ChatId: "c1", SenderId: "B", Content: "salom"})
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.Message.Id)
	assert.Nil(t, resp.Message.ReadAt)
	svc.AssertExpectations(t)
}

func TestChatServer_SendMessage_Errors(t *testing.T) {
	server, svc := newTestServer()

	svc.On("GetChat", mock.Anything, "missing").Return(nil, repository.ErrChatNotFound)
	svc.On("GetChat", mock.Anything, "c1").Return(&models.Chat{ID: "c1", UserID1: "A", UserID2: "B"}, nil)

	_, err := server.SendMessage(context.Background(), &pb.SendMessageRequest{ChatId: "c1", SenderId: "A", Content: "   "})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = server.SendMessage(context.Background(), &pb.SendMessageRequest{ChatId: "missing", SenderId: "A", Content: "salom"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = server.SendMessage(context.Background(), &pb.SendMessageRequest{ChatId: "c1", SenderId: "C", Content: "salom"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	svc.AssertNotCalled(t, "PostMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChatServer_GetChatMessages_ReaderFromMetadata(t *testing.T) {
	server, svc := newTestServer()
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	readAt := ts.Add(time.Minute)

	svc.On("FetchConversationMessages", mock.Anything, "c1", "B").Return([]*models.Message{
		{ID: "m1", ChatID: "c1", SenderID: "A", ReceiverID: "B", Content: "salom", Read: true, ReadAt: &readAt, CreatedAt: ts},
	}, nil)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(UserIDMetadataKey, "B"))
	resp, err := server.GetChatMessages(ctx, &pb.GetChatMessagesRequest{ChatId: "c1"})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	require.NotNil(t, resp.Messages[0].ReadAt)
	assert.Equal(t, readAt, resp.Messages[0].ReadAt.AsTime())
}

func TestChatServer_GetChatMessages_FetchError(t *testing.T) {
	server, svc := newTestServer()
	svc.On("FetchConversationMessages", mock.Anything, "c1", "").Return(nil, errors.New("db down"))

	_, err := server.GetChatMessages(context.Background(), &pb.GetChatMessagesRequest{ChatId: "c1"})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestChatServer_MarkMessagesAsRead(t *testing.T) {
	server, svc := newTestServer()
	svc.On("MarkMessagesAsRead", mock.Anything, "c1", "B").Return(4, nil)
	svc.On("MarkMessagesAsRead", mock.Anything, "c1", "C").Return(0, service.ErrNotParticipant)

	resp, err := server.MarkMessagesAsRead(context.Background(), &pb.MarkMessagesAsReadRequest{ChatId: "c1", UserId: "B"})
	require.NoError(t, err)
	assert.Equal(t, int32(4), resp.MarkedCount)

	_, err = server.MarkMessagesAsRead(context.Background(), &pb.MarkMessagesAsReadRequest{ChatId: "c1", UserId: "C"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestWindow(t *testing.T) {
	messages := []*models.Message{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}, {ID: "m4"}}

	ids := func(ms []*models.Message) []string {
		out := make([]string, len(ms))
		for i, m := range ms {
			out[i] = m.ID
		}
		return out
	}

	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(window(messages, 0, "")))
	assert.Equal(t, []string{"m3", "m4"}, ids(window(messages, 2, "")))
	assert.Equal(t, []string{"m1", "m2"}, ids(window(messages, 0, "m3")))
	assert.Equal(t, []string{"m2"}, ids(window(messages, 1, "m3")))
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(window(messages, 0, "unknown")))
}
