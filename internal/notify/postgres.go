package notify

import (
	"context"
	"time"

	"zabon/realtime-service/internal/models"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const listenerPingInterval = 90 * time.Second

// PostgresNotifier listens on the channel written by the messages insert
// trigger, so every committed row reaches subscribers regardless of which
// process inserted it.
type PostgresNotifier struct {
	listener *pq.Listener
	channel  string
	hub      *Hub
	logger   *logrus.Logger
}

func NewPostgresNotifier(dsn, channel string, logger *logrus.Logger) *PostgresNotifier {
	callback := func(event pq.ListenerEventType, err error) {
		entry := logger.WithField("channel", channel)
		if err != nil {
			entry = entry.WithError(err)
		}
		switch event {
		case pq.ListenerEventConnected:
			entry.Info("Notification listener connected")
		case pq.ListenerEventDisconnected:
			entry.Warn("Notification listener disconnected")
		case pq.ListenerEventReconnected:
			entry.Info("Notification listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			entry.Error("Notification listener connection attempt failed")
		}
	}

	return &PostgresNotifier{
		listener: pq.NewListener(dsn, 10*time.Second, time.Minute, callback),
		channel:  channel,
		hub:      NewHub(logger),
		logger:   logger,
	}
}

// Publish is a no-op: the insert trigger emits the notification.
func (n *PostgresNotifier) Publish(ctx context.Context, msg *models.Message) error {
	return nil
}

func (n *PostgresNotifier) Subscribe(receiverID string, fn Handler) (Subscription, error) {
	return n.hub.Subscribe(receiverID, fn), nil
}

func (n *PostgresNotifier) Run(ctx context.Context) error {
	if err := n.listener.Listen(n.channel); err != nil {
		return err
	}

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case notification := <-n.listener.Notify:
			n.handle(notification)
		case <-ping.C:
			go func() {
				if err := n.listener.Ping(); err != nil {
					n.logger.WithError(err).Warn("Notification listener ping failed")
				}
			}()
		}
	}
}

func (n *PostgresNotifier) handle(notification *pq.Notification) {
	// A nil notification follows a reconnect; events sent while disconnected
	// are lost and clients reconcile by re-fetching.
	if notification == nil {
		n.logger.Warn("Notification listener reconnected, events may have been missed")
		return
	}

	msg, err := decodeMessage(notification.Extra)
	if err != nil {
		n.logger.WithError(err).WithField("channel", notification.Channel).Error("Dropping malformed notification")
		return
	}

	n.hub.Dispatch(msg)
}

func (n *PostgresNotifier) Close() error {
	return n.listener.Close()
}
