package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"zabon/realtime-service/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisNotifier publishes inserted messages on one pub/sub channel and
// dispatches everything it receives to local subscribers.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *logrus.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedisNotifier(client *redis.Client, channel string, logger *logrus.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		hub:     NewHub(logger),
		logger:  logger,
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message event: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish message event: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(receiverID string, fn Handler) (Subscription, error) {
	return n.hub.Subscribe(receiverID, fn), nil
}

// Ready subscribes to the channel and waits for the server to confirm, so
// events published afterwards are not missed. Run calls it when needed.
func (n *RedisNotifier) Ready(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pubsub != nil {
		return nil
	}

	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	n.pubsub = pubsub
	return nil
}

func (n *RedisNotifier) Run(ctx context.Context) error {
	if err := n.Ready(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	ch := n.pubsub.Channel()
	n.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := decodeMessage(m.Payload)
			if err != nil {
				n.logger.WithError(err).WithField("channel", m.Channel).Error("Dropping malformed notification")
				continue
			}
			n.hub.Dispatch(msg)
		}
	}
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pubsub == nil {
		return nil
	}
	return n.pubsub.Close()
}
