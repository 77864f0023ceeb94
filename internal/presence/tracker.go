// Package presence emits a user's online/offline status from the client side:
// an immediate "online", a periodic heartbeat, lifecycle-driven transitions and
// a final "offline" on cancel.
package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"zabon/realtime-service/internal/clock"
	"zabon/realtime-service/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	DefaultHeartbeatInterval = 2 * time.Minute
	DefaultEmitTimeout       = 15 * time.Second
)

// StatusWriter is the single authoritative presence write.
type StatusWriter interface {
	SetStatus(ctx context.Context, userID string, status models.PresenceStatus) error
}

type Option func(*Tracker)

func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithEmitTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.emitTimeout = d
		}
	}
}

func WithLifecycle(l Lifecycle) Option {
	return func(t *Tracker) {
		if l != nil {
			t.lifecycle = l
		}
	}
}

type Tracker struct {
	writer      StatusWriter
	clock       clock.Clock
	lifecycle   Lifecycle
	interval    time.Duration
	emitTimeout time.Duration
	logger      *logrus.Logger
}

func NewTracker(writer StatusWriter, clk clock.Clock, logger *logrus.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		writer:      writer,
		clock:       clk,
		lifecycle:   Unsupported{},
		interval:    DefaultHeartbeatInterval,
		emitTimeout: DefaultEmitTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start emits "online" for userID and keeps it fresh until the returned cancel
// func is called. Cancel stops the heartbeat, waits for any in-flight write
// and emits one final "offline". Calling cancel more than once is safe.
//
// Write failures are logged and dropped; the next heartbeat carries the same
// intent.
func (t *Tracker) Start(ctx context.Context, userID string) (cancel func()) {
	s := &session{
		tracker: t,
		userID:  userID,
		ctx:     ctx,
		ticker:  t.clock.NewTicker(t.interval),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.emit(models.StatusOnline)
	go s.loop()

	var once sync.Once
	return func() {
		once.Do(s.cancel)
	}
}

type session struct {
	tracker *Tracker
	userID  string
	ctx     context.Context
	ticker  clock.Ticker

	stop chan struct{}
	done chan struct{}

	background bool
	inFlight   atomic.Bool
	heartbeats sync.WaitGroup
}

func (s *session) loop() {
	defer close(s.done)
	defer s.ticker.Stop()

	events := s.tracker.lifecycle.Events()
	for {
		select {
		case <-s.stop:
			return
		case <-s.ctx.Done():
			return
		case <-s.ticker.C():
			s.heartbeat()
		case state, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.transition(state)
		}
	}
}

// heartbeat re-emits "online" unless the app is backgrounded or the previous
// heartbeat is still in flight.
func (s *session) heartbeat() {
	if s.background {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.tracker.logger.WithField("user_id", s.userID).Debug("Skipping heartbeat, previous write still in flight")
		return
	}

	s.heartbeats.Add(1)
	go func() {
		defer s.heartbeats.Done()
		defer s.inFlight.Store(false)
		s.emit(models.StatusOnline)
	}()
}

func (s *session) transition(state AppState) {
	switch state {
	case Background:
		if s.background {
			return
		}
		s.background = true
		s.heartbeats.Wait()
		s.emit(models.StatusOffline)
	case Foreground:
		if !s.background {
			return
		}
		s.background = false
		s.emit(models.StatusOnline)
	}
}

func (s *session) cancel() {
	close(s.stop)
	<-s.done
	s.heartbeats.Wait()
	// The caller's context may already be done at teardown; the final write
	// gets its own deadline.
	s.emitWith(context.Background(), models.StatusOffline)
}

func (s *session) emit(status models.PresenceStatus) {
	s.emitWith(s.ctx, status)
}

func (s *session) emitWith(parent context.Context, status models.PresenceStatus) {
	ctx, cancel := context.WithTimeout(parent, s.tracker.emitTimeout)
	defer cancel()

	if err := s.tracker.writer.SetStatus(ctx, s.userID, status); err != nil {
		s.tracker.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": s.userID,
			"status":  status,
		}).Warn("Presence write failed")
	}
}
