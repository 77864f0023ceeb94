package notify

import (
	"sync"

	"zabon/realtime-service/internal/models"

	"github.com/sirupsen/logrus"
)

// Handler receives one inserted message.
type Handler func(msg *models.Message)

type Subscription interface {
	// Unsubscribe releases the subscription. Calls after the first are no-ops.
	Unsubscribe()
}

// Hub fans incoming message events out to the handlers registered for the
// message's receiver.
type Hub struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[string]map[uint64]Handler
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[uint64]Handler),
		logger: logger,
	}
}

func (h *Hub) Subscribe(receiverID string, fn Handler) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	if h.subs[receiverID] == nil {
		h.subs[receiverID] = make(map[uint64]Handler)
	}
	h.subs[receiverID][id] = fn

	h.logger.WithFields(logrus.Fields{
		"receiver_id":     receiverID,
		"subscription_id": id,
	}).Debug("Subscription opened")

	return &hubSubscription{hub: h, receiverID: receiverID, id: id}
}

// Dispatch invokes every handler subscribed to msg.ReceiverID. Handlers run
// on the caller's goroutine in no particular order.
func (h *Hub) Dispatch(msg *models.Message) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs[msg.ReceiverID]))
	for _, fn := range h.subs[msg.ReceiverID] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// Subscribers returns the number of live subscriptions for receiverID.
func (h *Hub) Subscribers(receiverID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[receiverID])
}

func (h *Hub) remove(receiverID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[receiverID], id)
	if len(h.subs[receiverID]) == 0 {
		delete(h.subs, receiverID)
	}

	h.logger.WithFields(logrus.Fields{
		"receiver_id":     receiverID,
		"subscription_id": id,
	}).Debug("Subscription closed")
}

type hubSubscription struct {
	hub        *Hub
	receiverID string
	id         uint64
	once       sync.Once
}

func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s.receiverID, s.id)
	})
}
