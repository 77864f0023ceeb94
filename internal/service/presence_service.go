package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zabon/realtime-service/internal/clock"
	"zabon/realtime-service/internal/models"
	"zabon/realtime-service/internal/repository"

	"github.com/sirupsen/logrus"
)

// DefaultStalenessWindow is how long a stored "online" is trusted without a
// fresh heartbeat. It spans two default heartbeat periods plus slack, so a
// single missed heartbeat does not flip a user to offline.
const DefaultStalenessWindow = 5 * time.Minute

type PresenceService interface {
	SetStatus(ctx context.Context, userID string, status models.PresenceStatus) error
	GetStatus(ctx context.Context, userID string) (*models.StatusView, error)
	GetStatuses(ctx context.Context, userIDs []string) ([]*models.StatusView, error)
}

type presenceService struct {
	repository repository.PresenceRepository
	clock      clock.Clock
	staleness  time.Duration
	logger     *logrus.Logger
}

func NewPresenceService(repo repository.PresenceRepository, clk clock.Clock, staleness time.Duration, logger *logrus.Logger) PresenceService {
	if staleness <= 0 {
		staleness = DefaultStalenessWindow
	}
	return &presenceService{
		repository: repo,
		clock:      clk,
		staleness:  staleness,
		logger:     logger,
	}
}

// SetStatus writes the user's status. Going offline also stamps lastSeenAt.
func (s *presenceService) SetStatus(ctx context.Context, userID string, status models.PresenceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	now := s.clock.Now().UTC()
	presence := &models.UserPresence{
		UserID:    userID,
		Status:    status,
		UpdatedAt: now,
	}
	if status == models.StatusOffline {
		presence.LastSeenAt = &now
	}

	if err := s.repository.UpsertPresence(ctx, presence); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"status":  status,
		}).Warn("Failed to update presence")
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"status":  status,
	}).Debug("Presence updated")

	return nil
}

// GetStatus reads the stored record and downgrades a stale "online" to
// offline. A user with no record is offline with no lastSeenAt.
func (s *presenceService) GetStatus(ctx context.Context, userID string) (*models.StatusView, error) {
	presence, err := s.repository.GetPresence(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrPresenceNotFound) {
			return &models.StatusView{UserID: userID, Status: models.StatusOffline}, nil
		}
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to read presence")
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	return s.correct(presence), nil
}

// GetStatuses is the batch form of GetStatus; results follow the order of
// userIDs, duplicates included.
func (s *presenceService) GetStatuses(ctx context.Context, userIDs []string) ([]*models.StatusView, error) {
	presences, err := s.repository.GetPresences(ctx, userIDs)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read presences")
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	byUser := make(map[string]*models.UserPresence, len(presences))
	for _, p := range presences {
		byUser[p.UserID] = p
	}

	views := make([]*models.StatusView, 0, len(userIDs))
	for _, userID := range userIDs {
		if p, ok := byUser[userID]; ok {
			views = append(views, s.correct(p))
			continue
		}
		views = append(views, &models.StatusView{UserID: userID, Status: models.StatusOffline})
	}

	return views, nil
}

func (s *presenceService) correct(p *models.UserPresence) *models.StatusView {
	view := &models.StatusView{
		UserID:     p.UserID,
		Status:     p.Status,
		LastSeenAt: p.LastSeenAt,
	}

	if p.Status == models.StatusOnline && s.clock.Now().Sub(p.UpdatedAt) > s.staleness {
		// The last heartbeat is the last time the user was actually seen.
		lastSeen := p.UpdatedAt
		view.Status = models.StatusOffline
		view.LastSeenAt = &lastSeen
	}

	return view
}
