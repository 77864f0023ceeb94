package service

import (
	"context"
	"io"

	"zabon/realtime-service/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// MockChatRepository is a mock implementation of repository.ChatRepository
type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	return m.Called(ctx, chat).Error(0)
}

func (m *MockChatRepository) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *MockChatRepository) GetChatByUsers(ctx context.Context, userID1, userID2 string) (*models.Chat, error) {
	args := m.Called(ctx, userID1, userID2)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *MockChatRepository) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Chat), args.Error(1)
}

func (m *MockChatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockChatRepository) GetChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockChatRepository) MarkMessagesAsRead(ctx context.Context, chatID, readerID string) (int, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Int(0), args.Error(1)
}

func (m *MockChatRepository) InitializeTables() error {
	return m.Called().Error(0)
}

// MockPresenceRepository is a mock implementation of repository.PresenceRepository
type MockPresenceRepository struct {
	mock.Mock
}

func (m *MockPresenceRepository) UpsertPresence(ctx context.Context, p *models.UserPresence) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockPresenceRepository) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserPresence), args.Error(1)
}

func (m *MockPresenceRepository) GetPresences(ctx context.Context, userIDs []string) ([]*models.UserPresence, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.UserPresence), args.Error(1)
}

func (m *MockPresenceRepository) InitializeTables() error {
	return m.Called().Error(0)
}
