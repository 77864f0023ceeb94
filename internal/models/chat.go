package models

import (
	"time"
)

// MaxMessageLength bounds message content, counted in characters after trimming.
const MaxMessageLength = 1000

type Chat struct {
	ID        string
	UserID1   string
	UserID2   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Chat) HasParticipant(userID string) bool {
	return c.UserID1 == userID || c.UserID2 == userID
}

// HasParticipants reports whether a and b are the two participants, in either order.
func (c *Chat) HasParticipants(a, b string) bool {
	return (c.UserID1 == a && c.UserID2 == b) || (c.UserID1 == b && c.UserID2 == a)
}

func (c *Chat) OtherParticipant(userID string) (string, bool) {
	switch userID {
	case c.UserID1:
		return c.UserID2, true
	case c.UserID2:
		return c.UserID1, true
	}
	return "", false
}

// Message mirrors a messages row. The JSON shape matches the column names so the
// same struct decodes insert notifications from Postgres and Redis.
type Message struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chat_id"`
	SenderID   string     `json:"sender_id"`
	ReceiverID string     `json:"receiver_id"`
	Content    string     `json:"content"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
