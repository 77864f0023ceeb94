package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"zabon/realtime-service/internal/models"
	"zabon/realtime-service/internal/notify"
	"zabon/realtime-service/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ChatService interface {
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Chat, error)
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error)
	PostMessage(ctx context.Context, chatID, senderID, receiverID, content string) (*models.Message, error)
	FetchConversationMessages(ctx context.Context, chatID, readerID string) ([]*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error)
	SubscribeToIncoming(userID string, onMessage notify.Handler) (notify.Subscription, error)
}

type chatService struct {
	repository repository.ChatRepository
	notifier   notify.Notifier
	logger     *logrus.Logger
}

func NewChatService(repo repository.ChatRepository, notifier notify.Notifier, logger *logrus.Logger) ChatService {
	return &chatService{
		repository: repo,
		notifier:   notifier,
		logger:     logger,
	}
}

// GetOrCreateConversation returns the conversation for the unordered pair,
// creating it on first contact. The repository enforces pair uniqueness, so
// two concurrent first calls converge on one row.
func (s *chatService) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Chat, error) {
	if userA == userB {
		return nil, ErrSelfChat
	}

	existingChat, err := s.repository.GetChatByUsers(ctx, userA, userB)
	if err == nil {
		return existingChat, nil
	}
	if !errors.Is(err, repository.ErrChatNotFound) {
		s.logger.WithError(err).Error("Failed to look up chat")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	chat := &models.Chat{
		ID:      uuid.New().String(),
		UserID1: userA,
		UserID2: userB,
	}

	if err := s.repository.CreateChat(ctx, chat); err != nil {
		s.logger.WithError(err).Error("Failed to create chat")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":  chat.ID,
		"user_id1": chat.UserID1,
		"user_id2": chat.UserID2,
	}).Info("Chat created")

	return chat, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	chat, err := s.repository.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, err
		}
		s.logger.WithError(err).Error("Failed to get chat")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	return chat, nil
}

func (s *chatService) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	chats, err := s.repository.GetUserChats(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user chats")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	return chats, nil
}

// ValidateContent trims content and checks it against the length bound.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > models.MaxMessageLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

func (s *chatService) PostMessage(ctx context.Context, chatID, senderID, receiverID, content string) (*models.Message, error) {
	trimmed, err := ValidateContent(content)
	if err != nil {
		return nil, err
	}

	chat, err := s.repository.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, err
		}
		s.logger.WithError(err).Error("Failed to load chat for message")
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}

	if senderID == receiverID || !chat.HasParticipants(senderID, receiverID) {
		return nil, ErrNotParticipant
	}

	msg := &models.Message{
		ID:         uuid.New().String(),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    trimmed,
	}

	if err := s.repository.CreateMessage(ctx, msg); err != nil {
		s.logger.WithError(err).Error("Failed to send message")
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}

	if err := s.notifier.Publish(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to publish message event")
	}

	s.logger.WithFields(logrus.Fields{
		"message_id":  msg.ID,
		"chat_id":     chatID,
		"sender_id":   senderID,
		"receiver_id": receiverID,
	}).Info("Message sent")

	return msg, nil
}

// FetchConversationMessages returns the whole conversation oldest first and
// marks every unread message addressed to readerID as read. The returned
// slice already reflects the read flags. An empty readerID reads without
// marking.
func (s *chatService) FetchConversationMessages(ctx context.Context, chatID, readerID string) ([]*models.Message, error) {
	messages, err := s.repository.GetChatMessages(ctx, chatID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get chat messages")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if readerID == "" || !hasUnreadFor(messages, readerID) {
		return messages, nil
	}

	count, err := s.repository.MarkMessagesAsRead(ctx, chatID, readerID)
	if err != nil {
		s.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to mark messages as read")
		return messages, nil
	}

	readAt := time.Now().UTC()
	for _, msg := range messages {
		if msg.ReceiverID == readerID && !msg.Read {
			msg.Read = true
			msg.ReadAt = &readAt
		}
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":   chatID,
		"reader_id": readerID,
		"marked":    count,
	}).Debug("Messages marked as read")

	return messages, nil
}

func hasUnreadFor(messages []*models.Message, readerID string) bool {
	for _, msg := range messages {
		if msg.ReceiverID == readerID && !msg.Read {
			return true
		}
	}
	return false
}

func (s *chatService) MarkMessagesAsRead(ctx context.Context, chatID, userID string) (int, error) {
	chat, err := s.repository.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if !chat.HasParticipant(userID) {
		return 0, ErrNotParticipant
	}

	count, err := s.repository.MarkMessagesAsRead(ctx, chatID, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark messages as read")
		return 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	return count, nil
}

// SubscribeToIncoming registers onMessage for every message inserted with
// receiverID = userID. The caller must Unsubscribe when done.
func (s *chatService) SubscribeToIncoming(userID string, onMessage notify.Handler) (notify.Subscription, error) {
	sub, err := s.notifier.Subscribe(userID, onMessage)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to subscribe to incoming messages")
		return nil, err
	}

	s.logger.WithField("user_id", userID).Debug("Subscribed to incoming messages")
	return sub, nil
}
