// Package notify delivers message-inserted events to subscribed receivers.
// Every Notifier feeds a local Hub; they differ only in where events come from.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"zabon/realtime-service/internal/models"

	"github.com/sirupsen/logrus"
)

type Notifier interface {
	// Publish announces an inserted message. Backends whose store emits the
	// event itself treat this as a no-op.
	Publish(ctx context.Context, msg *models.Message) error
	Subscribe(receiverID string, fn Handler) (Subscription, error)
	// Run pumps backend events into local subscribers until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// Local delivers published messages straight to in-process subscribers.
type Local struct {
	hub *Hub
}

func NewLocal(logger *logrus.Logger) *Local {
	return &Local{hub: NewHub(logger)}
}

func (l *Local) Publish(ctx context.Context, msg *models.Message) error {
	l.hub.Dispatch(msg)
	return nil
}

func (l *Local) Subscribe(receiverID string, fn Handler) (Subscription, error) {
	return l.hub.Subscribe(receiverID, fn), nil
}

func (l *Local) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *Local) Close() error {
	return nil
}

func decodeMessage(payload string) (*models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("decode message event: %w", err)
	}
	if msg.ID == "" || msg.ReceiverID == "" {
		return nil, fmt.Errorf("decode message event: missing id or receiver_id")
	}
	return &msg, nil
}
