package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"zabon/realtime-service/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process ChatRepository and PresenceRepository for local
// runs and tests. It applies the same pair uniqueness and ordering rules as
// the Postgres schema.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	chats     map[string]*models.Chat
	messages  map[string][]*models.Message
	presences map[string]*models.UserPresence
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:       now,
		chats:     make(map[string]*models.Chat),
		messages:  make(map[string][]*models.Message),
		presences: make(map[string]*models.UserPresence),
	}
}

func (m *MemoryStore) InitializeTables() error {
	return nil
}

func (m *MemoryStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.findPairLocked(chat.UserID1, chat.UserID2); existing != nil {
		*chat = *existing
		return nil
	}

	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	now := m.now()
	chat.CreatedAt = now
	chat.UpdatedAt = now

	stored := *chat
	m.chats[chat.ID] = &stored
	return nil
}

func (m *MemoryStore) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[id]
	if !ok {
		return nil, ErrChatNotFound
	}
	c := *chat
	return &c, nil
}

func (m *MemoryStore) GetChatByUsers(ctx context.Context, userID1, userID2 string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat := m.findPairLocked(userID1, userID2)
	if chat == nil {
		return nil, ErrChatNotFound
	}
	c := *chat
	return &c, nil
}

func (m *MemoryStore) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var chats []*models.Chat
	for _, chat := range m.chats {
		if chat.HasParticipant(userID) {
			c := *chat
			chats = append(chats, &c)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[msg.ChatID]
	if !ok {
		return ErrChatNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Read = false
	msg.ReadAt = nil
	msg.CreatedAt = m.now()
	chat.UpdatedAt = msg.CreatedAt

	stored := *msg
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], &stored)
	return nil
}

func (m *MemoryStore) GetChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.messages[chatID]
	messages := make([]*models.Message, 0, len(stored))
	for _, msg := range stored {
		cp := *msg
		messages = append(messages, &cp)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (m *MemoryStore) MarkMessagesAsRead(ctx context.Context, chatID, readerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for _, msg := range m.messages[chatID] {
		if msg.ReceiverID == readerID && !msg.Read {
			msg.Read = true
			readAt := now
			msg.ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) UpsertPresence(ctx context.Context, p *models.UserPresence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *p
	if stored.LastSeenAt == nil {
		if prev, ok := m.presences[p.UserID]; ok {
			stored.LastSeenAt = prev.LastSeenAt
		}
	}
	m.presences[p.UserID] = &stored
	return nil
}

func (m *MemoryStore) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.presences[userID]
	if !ok {
		return nil, ErrPresenceNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPresences(ctx context.Context, userIDs []string) ([]*models.UserPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var presences []*models.UserPresence
	for _, userID := range userIDs {
		if p, ok := m.presences[userID]; ok {
			cp := *p
			presences = append(presences, &cp)
		}
	}
	return presences, nil
}

func (m *MemoryStore) findPairLocked(a, b string) *models.Chat {
	for _, chat := range m.chats {
		if chat.HasParticipants(a, b) {
			return chat
		}
	}
	return nil
}

var (
	_ ChatRepository     = (*MemoryStore)(nil)
	_ PresenceRepository = (*MemoryStore)(nil)
)
