package conversation

import (
	"sort"

	"zabon/realtime-service/internal/models"
)

// MessageSet holds a conversation's messages keyed by id, so the same message
// arriving from an optimistic append, a push event and a fetch is kept once.
type MessageSet struct {
	byID map[string]*models.Message
}

func NewMessageSet() *MessageSet {
	return &MessageSet{byID: make(map[string]*models.Message)}
}

// Upsert stores msg, replacing any message with the same id. A stored read
// mark is never cleared by an unread copy. It reports whether the id was new.
func (s *MessageSet) Upsert(msg *models.Message) bool {
	prev, exists := s.byID[msg.ID]
	cp := *msg
	if exists && prev.Read && !cp.Read {
		cp.Read = true
		cp.ReadAt = prev.ReadAt
	}
	s.byID[msg.ID] = &cp
	return !exists
}

func (s *MessageSet) Len() int {
	return len(s.byID)
}

// Sorted returns copies ordered by CreatedAt, ties broken by id.
func (s *MessageSet) Sorted() []*models.Message {
	out := make([]*models.Message, 0, len(s.byID))
	for _, msg := range s.byID {
		cp := *msg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
