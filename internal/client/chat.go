package client

import (
	"context"
	"fmt"
	"sync"

	grpcServer "zabon/realtime-service/internal/grpc"
	"zabon/realtime-service/internal/models"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	pb "github.com/kegazani/metachat-proto/chat"
)

// ChatClient is the gRPC side of a conversation. It satisfies
// conversation.Backend.
type ChatClient struct {
	conn   *grpc.ClientConn
	rpc    pb.ChatServiceClient
	logger *logrus.Logger

	mu    sync.Mutex
	chats map[string]*models.Chat
}

func DialChat(addr string, logger *logrus.Logger) (*ChatClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial chat service: %w", err)
	}
	c := NewChatClient(pb.NewChatServiceClient(conn), logger)
	c.conn = conn
	return c, nil
}

func NewChatClient(rpc pb.ChatServiceClient, logger *logrus.Logger) *ChatClient {
	return &ChatClient{
		rpc:    rpc,
		logger: logger,
		chats:  make(map[string]*models.Chat),
	}
}

func (c *ChatClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *ChatClient) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Chat, error) {
	resp, err := c.rpc.CreateChat(ctx, &pb.CreateChatRequest{UserId1: userA, UserId2: userB})
	if err != nil {
		return nil, err
	}
	chat := chatFromProto(resp.Chat)
	c.remember(chat)
	return chat, nil
}

// FetchConversationMessages lists the chat oldest first and has the server
// mark readerID's unread messages.
func (c *ChatClient) FetchConversationMessages(ctx context.Context, chatID, readerID string) ([]*models.Message, error) {
	chat, err := c.chat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if readerID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcServer.UserIDMetadataKey, readerID)
	}

	resp, err := c.rpc.GetChatMessages(ctx, &pb.GetChatMessagesRequest{ChatId: chatID})
	if err != nil {
		return nil, err
	}

	messages := make([]*models.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		messages = append(messages, messageFromProto(m, chat))
	}
	return messages, nil
}

func (c *ChatClient) PostMessage(ctx context.Context, chatID, senderID, receiverID, content string) (*models.Message, error) {
	resp, err := c.rpc.SendMessage(ctx, &pb.SendMessageRequest{
		ChatId:   chatID,
		SenderId: senderID,
		Content:  content,
	})
	if err != nil {
		return nil, err
	}

	msg := messageFromProto(resp.Message, nil)
	msg.ReceiverID = receiverID
	return msg, nil
}

func (c *ChatClient) chat(ctx context.Context, chatID string) (*models.Chat, error) {
	c.mu.Lock()
	chat, ok := c.chats[chatID]
	c.mu.Unlock()
	if ok {
		return chat, nil
	}

	resp, err := c.rpc.GetChat(ctx, &pb.GetChatRequest{ChatId: chatID})
	if err != nil {
		return nil, err
	}
	chat = chatFromProto(resp.Chat)
	c.remember(chat)
	return chat, nil
}

func (c *ChatClient) remember(chat *models.Chat) {
	c.mu.Lock()
	c.chats[chat.ID] = chat
	c.mu.Unlock()
}

func chatFromProto(p *pb.Chat) *models.Chat {
	chat := &models.Chat{
		ID:      p.Id,
		UserID1: p.UserId1,
		UserID2: p.UserId2,
	}
	if p.CreatedAt != nil {
		chat.CreatedAt = p.CreatedAt.AsTime()
	}
	if p.UpdatedAt != nil {
		chat.UpdatedAt = p.UpdatedAt.AsTime()
	}
	return chat
}

// messageFromProto fills ReceiverID from chat when known. The wire message
// carries read_at only, so Read follows it.
func messageFromProto(p *pb.Message, chat *models.Chat) *models.Message {
	msg := &models.Message{
		ID:       p.Id,
		ChatID:   p.ChatId,
		SenderID: p.SenderId,
		Content:  p.Content,
	}
	if p.CreatedAt != nil {
		msg.CreatedAt = p.CreatedAt.AsTime()
	}
	if p.ReadAt != nil {
		readAt := p.ReadAt.AsTime()
		msg.ReadAt = &readAt
		msg.Read = true
	}
	if chat != nil {
		if receiver, ok := chat.OtherParticipant(p.SenderId); ok {
			msg.ReceiverID = receiver
		}
	}
	return msg
}
