package repository

import (
	"context"
	"testing"
	"time"

	"zabon/realtime-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steppingClock struct {
	now time.Time
}

func (s *steppingClock) Now() time.Time {
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

func TestMemoryStore_CreateChatIsPairUnique(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	first := &models.Chat{ID: "c1", UserID1: "A", UserID2: "B"}
	require.NoError(t, store.CreateChat(ctx, first))

	second := &models.Chat{ID: "c2", UserID1: "B", UserID2: "A"}
	require.NoError(t, store.CreateChat(ctx, second))

	assert.Equal(t, "c1", second.ID)

	chat, err := store.GetChatByUsers(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, "c1", chat.ID)
}

func TestMemoryStore_MessagesOrderedAndMarkedRead(t *testing.T) {
	clk := &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clk.Now)
	ctx := context.Background()

	require.NoError(t, store.CreateChat(ctx, &models.Chat{ID: "c1", UserID1: "A", UserID2: "B"}))
	for _, m := range []*models.Message{
		{ChatID: "c1", SenderID: "A", ReceiverID: "B", Content: "1"},
		{ChatID: "c1", SenderID: "B", ReceiverID: "A", Content: "2"},
		{ChatID: "c1", SenderID: "A", ReceiverID: "B", Content: "3"},
	} {
		require.NoError(t, store.CreateMessage(ctx, m))
	}

	count, err := store.MarkMessagesAsRead(ctx, "c1", "B")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	messages, err := store.GetChatMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{messages[0].Content, messages[1].Content, messages[2].Content})
	assert.True(t, messages[0].Read)
	assert.False(t, messages[1].Read)
	assert.True(t, messages[2].Read)

	again, err := store.MarkMessagesAsRead(ctx, "c1", "B")
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestMemoryStore_CreateMessageUnknownChat(t *testing.T) {
	store := NewMemoryStore(nil)

	err := store.CreateMessage(context.Background(), &models.Message{ChatID: "nope", Content: "x"})
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestMemoryStore_PresenceKeepsLastSeen(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertPresence(ctx, &models.UserPresence{UserID: "u1", Status: models.StatusOffline, LastSeenAt: &t0, UpdatedAt: t0}))
	require.NoError(t, store.UpsertPresence(ctx, &models.UserPresence{UserID: "u1", Status: models.StatusOnline, UpdatedAt: t0.Add(time.Minute)}))

	p, err := store.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, p.Status)
	require.NotNil(t, p.LastSeenAt)
	assert.Equal(t, t0, *p.LastSeenAt)
}

func TestMemoryStore_CreateMessageMovesChatToFront(t *testing.T) {
	clk := &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clk.Now)
	ctx := context.Background()

	require.NoError(t, store.CreateChat(ctx, &models.Chat{ID: "older", UserID1: "A", UserID2: "B"}))
	require.NoError(t, store.CreateChat(ctx, &models.Chat{ID: "newer", UserID1: "A", UserID2: "C"}))

	chats, err := store.GetUserChats(ctx, "A")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "newer", chats[0].ID)

	require.NoError(t, store.CreateMessage(ctx, &models.Message{ChatID: "older", SenderID: "B", ReceiverID: "A", Content: "hi"}))

	chats, err = store.GetUserChats(ctx, "A")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "older", chats[0].ID)
}
