package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"zabon/realtime-service/internal/models"
)

var (
	ErrChatNotFound     = errors.New("chat not found")
	ErrPresenceNotFound = errors.New("presence not found")
)

type ChatRepository interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChatByID(ctx context.Context, id string) (*models.Chat, error)
	GetChatByUsers(ctx context.Context, userID1, userID2 string) (*models.Chat, error)
	GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetChatMessages(ctx context.Context, chatID string) ([]*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, chatID, readerID string) (int, error)
	InitializeTables() error
}

// MessageInsertedChannel is the LISTEN/NOTIFY channel fed by the messages insert trigger.
const MessageInsertedChannel = "chat_message_inserted"

type chatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) ChatRepository {
	return &chatRepository{
		db: db,
	}
}

func (r *chatRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS chats (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id1 TEXT NOT NULL,
		user_id2 TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (user_id1 <> user_id2)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_pair
		ON chats ((LEAST(user_id1, user_id2)), (GREATEST(user_id1, user_id2)));

	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL CHECK (char_length(content) BETWEEN 1 AND 1000),
		read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread ON messages(receiver_id) WHERE read = FALSE;
	CREATE INDEX IF NOT EXISTS idx_chats_user1 ON chats(user_id1);
	CREATE INDEX IF NOT EXISTS idx_chats_user2 ON chats(user_id2);

	CREATE OR REPLACE FUNCTION notify_message_inserted() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + MessageInsertedChannel + `', row_to_json(NEW)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS messages_notify_insert ON messages;
	CREATE TRIGGER messages_notify_insert
		AFTER INSERT ON messages
		FOR EACH ROW EXECUTE FUNCTION notify_message_inserted();
	`

	_, err := r.db.Exec(query)
	return err
}

// CreateChat inserts the conversation or, when the unordered pair already has
// one, fills chat with the stored row instead.
func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	query := `
	INSERT INTO chats (id, user_id1, user_id2)
	VALUES ($1, $2, $3)
	ON CONFLICT ((LEAST(user_id1, user_id2)), (GREATEST(user_id1, user_id2)))
	DO UPDATE SET updated_at = chats.updated_at
	RETURNING id, user_id1, user_id2, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		chat.ID, chat.UserID1, chat.UserID2,
	).Scan(&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	return nil
}

func (r *chatRepository) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	query := `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE id = $1
	`

	var chat models.Chat
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	return &chat, nil
}

func (r *chatRepository) GetChatByUsers(ctx context.Context, userID1, userID2 string) (*models.Chat, error) {
	query := `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE (user_id1 = $1 AND user_id2 = $2) OR (user_id1 = $2 AND user_id2 = $1)
	LIMIT 1
	`

	var chat models.Chat
	err := r.db.QueryRowContext(ctx, query, userID1, userID2).Scan(
		&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	return &chat, nil
}

func (r *chatRepository) GetUserChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	query := `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE user_id1 = $1 OR user_id2 = $1
	ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		var chat models.Chat
		err := rows.Scan(
			&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		chats = append(chats, &chat)
	}

	return chats, rows.Err()
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
	INSERT INTO messages (id, chat_id, sender_id, receiver_id, content, read)
	VALUES ($1, $2, $3, $4, $5, FALSE)
	RETURNING id, read, created_at
	`

	err = tx.QueryRowContext(ctx, query,
		msg.ID, msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Content,
	).Scan(&msg.ID, &msg.Read, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	updateChatQuery := `UPDATE chats SET updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateChatQuery, msg.ChatID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}

	return tx.Commit()
}

func (r *chatRepository) GetChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	query := `
	SELECT id, chat_id, sender_id, receiver_id, content, read, read_at, created_at
	FROM messages
	WHERE chat_id = $1
	ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var readAt sql.NullTime
		err := rows.Scan(
			&msg.ID, &msg.ChatID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.Read, &readAt, &msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if readAt.Valid {
			msg.ReadAt = &readAt.Time
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

func (r *chatRepository) MarkMessagesAsRead(ctx context.Context, chatID, readerID string) (int, error) {
	query := `
	UPDATE messages
	SET read = TRUE, read_at = NOW()
	WHERE chat_id = $1 AND receiver_id = $2 AND read = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, chatID, readerID)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(count), nil
}
