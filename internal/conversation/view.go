// Package conversation keeps a client's local copy of one open conversation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"zabon/realtime-service/internal/models"

	"github.com/sirupsen/logrus"
)

type State int

const (
	Idle State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

var ErrLoadInProgress = errors.New("conversation load already in progress")

type Loader interface {
	FetchConversationMessages(ctx context.Context, chatID, readerID string) ([]*models.Message, error)
}

type Sender interface {
	PostMessage(ctx context.Context, chatID, senderID, receiverID, content string) (*models.Message, error)
}

type Backend interface {
	Loader
	Sender
}

// View is the client-local state of one conversation as seen by readerID.
// Fetches and push events are merged by message id; neither replaces the
// other, so messages buffered locally survive a failed reload.
type View struct {
	backend  Backend
	chatID   string
	readerID string
	peerID   string
	logger   *logrus.Logger

	mu       sync.Mutex
	state    State
	lastErr  error
	messages *MessageSet
	draft    string
}

func NewView(backend Backend, chatID, readerID, peerID string, logger *logrus.Logger) *View {
	return &View{
		backend:  backend,
		chatID:   chatID,
		readerID: readerID,
		peerID:   peerID,
		logger:   logger,
		messages: NewMessageSet(),
	}
}

func (v *View) ChatID() string {
	return v.chatID
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Load fetches the conversation and merges it into the local set.
func (v *View) Load(ctx context.Context) error {
	v.mu.Lock()
	if v.state == Loading {
		v.mu.Unlock()
		return ErrLoadInProgress
	}
	v.state = Loading
	v.mu.Unlock()

	fetched, err := v.backend.FetchConversationMessages(ctx, v.chatID, v.readerID)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err != nil {
		v.state = Failed
		v.lastErr = err
		v.logger.WithError(err).WithField("chat_id", v.chatID).Warn("Failed to load conversation")
		return err
	}

	for _, msg := range fetched {
		v.messages.Upsert(msg)
	}
	v.state = Loaded
	v.lastErr = nil
	return nil
}

// MessageArrived merges a pushed message. Messages for other conversations
// are ignored.
func (v *View) MessageArrived(msg *models.Message) {
	if msg.ChatID != v.chatID {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.messages.Upsert(msg) {
		v.logger.WithFields(logrus.Fields{
			"chat_id":    v.chatID,
			"message_id": msg.ID,
		}).Debug("Message arrived")
	}
}

// Send posts content to the peer and appends the stored message. On failure
// the text is kept as the draft so it can be retried.
func (v *View) Send(ctx context.Context, content string) (*models.Message, error) {
	msg, err := v.backend.PostMessage(ctx, v.chatID, v.readerID, v.peerID, content)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err != nil {
		v.draft = content
		return nil, fmt.Errorf("send to %s: %w", v.peerID, err)
	}

	v.draft = ""
	v.messages.Upsert(msg)
	return msg, nil
}

func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// Messages returns the local messages oldest first.
func (v *View) Messages() []*models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.messages.Sorted()
}
