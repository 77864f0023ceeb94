package grpc

import (
	"context"
	"errors"

	"zabon/realtime-service/internal/models"
	"zabon/realtime-service/internal/repository"
	"zabon/realtime-service/internal/service"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	pb "github.com/kegazani/metachat-proto/chat"
)

// UserIDMetadataKey carries the calling user's id on requests whose message
// has no user field of its own.
const UserIDMetadataKey = "x-user-id"

type ChatServer struct {
	pb.UnimplementedChatServiceServer
	service service.ChatService
	logger  *logrus.Logger
}

func NewChatServer(svc service.ChatService, logger *logrus.Logger) *ChatServer {
	return &ChatServer{
		service: svc,
		logger:  logger,
	}
}

func (s *ChatServer) CreateChat(ctx context.Context, req *pb.CreateChatRequest) (*pb.CreateChatResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"user_id1": req.UserId1,
		"user_id2": req.UserId2,
	}).Info("Creating chat via gRPC")

	if req.UserId1 == "" || req.UserId2 == "" {
		return nil, status.Error(codes.InvalidArgument, "both user ids are required")
	}

	chat, err := s.service.GetOrCreateConversation(ctx, req.UserId1, req.UserId2)
	if err != nil {
		return nil, toStatus(err, "failed to create chat")
	}

	return &pb.CreateChatResponse{
		Chat: s.chatToProto(chat),
	}, nil
}

func (s *ChatServer) GetChat(ctx context.Context, req *pb.GetChatRequest) (*pb.GetChatResponse, error) {
	s.logger.WithField("chat_id", req.ChatId).Info("Getting chat via gRPC")

	chat, err := s.service.GetChat(ctx, req.ChatId)
	if err != nil {
		return nil, toStatus(err, "failed to get chat")
	}

	return &pb.GetChatResponse{
		Chat: s.chatToProto(chat),
	}, nil
}

func (s *ChatServer) GetUserChats(ctx context.Context, req *pb.GetUserChatsRequest) (*pb.GetUserChatsResponse, error) {
	s.logger.WithField("user_id", req.UserId).Info("Getting user chats via gRPC")

	chats, err := s.service.GetUserChats(ctx, req.UserId)
	if err != nil {
		return nil, toStatus(err, "failed to get user chats")
	}

	protoChats := make([]*pb.Chat, len(chats))
	for i, c := range chats {
		protoChats[i] = s.chatToProto(c)
	}

	return &pb.GetUserChatsResponse{
		Chats: protoChats,
	}, nil
}

// SendMessage resolves the receiver as the sender's counterpart in the chat.
func (s *ChatServer) SendMessage(ctx context.Context, req *pb.SendMessageRequest) (*pb.SendMessageResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id":   req.ChatId,
		"sender_id": req.SenderId,
	}).Info("Sending message via gRPC")

	if _, err := service.ValidateContent(req.Content); err != nil {
		return nil, toStatus(err, "invalid message")
	}

	chat, err := s.service.GetChat(ctx, req.ChatId)
	if err != nil {
		return nil, toStatus(err, "failed to send message")
	}

	receiverID, ok := chat.OtherParticipant(req.SenderId)
	if !ok {
		return nil, toStatus(service.ErrNotParticipant, "failed to send message")
	}

	msg, err := s.service.PostMessage(ctx, req.ChatId, req.SenderId, receiverID, req.Content)
	if err != nil {
		return nil, toStatus(err, "failed to send message")
	}

	return &pb.SendMessageResponse{
		Message: s.messageToProto(msg),
	}, nil
}

// GetChatMessages returns the conversation oldest first. The reader comes
// from x-user-id metadata and has their unread messages marked. When set,
// before_message_id keeps only messages older than that id and limit keeps
// the newest limit of what remains.
func (s *ChatServer) GetChatMessages(ctx context.Context, req *pb.GetChatMessagesRequest) (*pb.GetChatMessagesResponse, error) {
	readerID := userIDFromContext(ctx)

	s.logger.WithFields(logrus.Fields{
		"chat_id":   req.ChatId,
		"reader_id": readerID,
	}).Info("Getting chat messages via gRPC")

	messages, err := s.service.FetchConversationMessages(ctx, req.ChatId, readerID)
	if err != nil {
		return nil, toStatus(err, "failed to get chat messages")
	}

	messages = window(messages, int(req.Limit), req.BeforeMessageId)

	protoMessages := make([]*pb.Message, len(messages))
	for i, m := range messages {
		protoMessages[i] = s.messageToProto(m)
	}

	return &pb.GetChatMessagesResponse{
		Messages: protoMessages,
	}, nil
}

func (s *ChatServer) MarkMessagesAsRead(ctx context.Context, req *pb.MarkMessagesAsReadRequest) (*pb.MarkMessagesAsReadResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id": req.ChatId,
		"user_id": req.UserId,
	}).Info("Marking messages as read via gRPC")

	count, err := s.service.MarkMessagesAsRead(ctx, req.ChatId, req.UserId)
	if err != nil {
		return nil, toStatus(err, "failed to mark messages as read")
	}

	return &pb.MarkMessagesAsReadResponse{
		MarkedCount: int32(count),
	}, nil
}

func window(messages []*models.Message, limit int, beforeID string) []*models.Message {
	if beforeID != "" {
		for i, m := range messages {
			if m.ID == beforeID {
				messages = messages[:i]
				break
			}
		}
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages
}

func userIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(UserIDMetadataKey); len(values) > 0 {
		return values[0]
	}
	return ""
}

func toStatus(err error, msg string) error {
	switch {
	case errors.Is(err, repository.ErrChatNotFound):
		return status.Error(codes.NotFound, "chat not found")
	case errors.Is(err, service.ErrNotParticipant):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, service.ErrSelfChat):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Errorf(codes.Internal, "%s: %v", msg, err)
	}
}

func (s *ChatServer) chatToProto(chat *models.Chat) *pb.Chat {
	return &pb.Chat{
		Id:        chat.ID,
		UserId1:   chat.UserID1,
		UserId2:   chat.UserID2,
		CreatedAt: timestamppb.New(chat.CreatedAt),
		UpdatedAt: timestamppb.New(chat.UpdatedAt),
	}
}

func (s *ChatServer) messageToProto(msg *models.Message) *pb.Message {
	protoMsg := &pb.Message{
		Id:        msg.ID,
		ChatId:    msg.ChatID,
		SenderId:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: timestamppb.New(msg.CreatedAt),
	}

	if msg.ReadAt != nil {
		protoMsg.ReadAt = timestamppb.New(*msg.ReadAt)
	}

	return protoMsg
}
