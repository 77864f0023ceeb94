package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"zabon/realtime-service/internal/models"
	"zabon/realtime-service/internal/notify"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Subscriber receives messages addressed to one user over the service's
// WebSocket push endpoint.
type Subscriber struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	logger  *logrus.Logger
}

func NewSubscriber(baseURL, token string, logger *logrus.Logger) *Subscriber {
	return &Subscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// Subscribe connects and invokes fn for every pushed message until the
// returned subscription is cancelled or the server closes the stream.
func (s *Subscriber) Subscribe(ctx context.Context, userID string, fn notify.Handler) (notify.Subscription, error) {
	endpoint, err := s.endpoint(userID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, _, err := s.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("connect message stream: %w", err)
	}

	sub := &streamSubscription{conn: conn, done: make(chan struct{})}
	entry := s.logger.WithField("user_id", userID)

	go func() {
		defer close(sub.done)
		for {
			var msg models.Message
			if err := conn.ReadJSON(&msg); err != nil {
				if !sub.closing() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					entry.WithError(err).Warn("Message stream closed")
				}
				return
			}
			if sub.closing() {
				return
			}
			sub.inHandler.Store(true)
			fn(&msg)
			sub.inHandler.Store(false)
		}
	}()

	entry.Info("Subscribed to incoming messages")
	return sub, nil
}

func (s *Subscriber) endpoint(userID string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/messages/" + userID
	return u.String(), nil
}

type streamSubscription struct {
	conn      *websocket.Conn
	done      chan struct{}
	inHandler atomic.Bool

	mu     sync.Mutex
	closed bool
}

func (s *streamSubscription) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Unsubscribe closes the stream and waits for the reader to exit. Called from
// inside the handler it returns without waiting; no further messages are
// delivered. It is safe to call more than once.
func (s *streamSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.conn.Close()
	if s.inHandler.Load() {
		return
	}
	<-s.done
}
