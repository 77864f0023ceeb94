package repository

import (
	"context"
	"fmt"
	"time"

	"zabon/realtime-service/internal/models"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:"

// redisPresenceRepository keeps one hash per user. HSET only touches the
// fields it is given, so an online write leaves last_seen_at alone.
type redisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) PresenceRepository {
	return &redisPresenceRepository{
		client: client,
	}
}

func (r *redisPresenceRepository) InitializeTables() error {
	return nil
}

func (r *redisPresenceRepository) UpsertPresence(ctx context.Context, p *models.UserPresence) error {
	fields := map[string]any{
		"status":     string(p.Status),
		"updated_at": p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.LastSeenAt != nil {
		fields["last_seen_at"] = p.LastSeenAt.UTC().Format(time.RFC3339Nano)
	}

	if err := r.client.HSet(ctx, presenceKeyPrefix+p.UserID, fields).Err(); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

func (r *redisPresenceRepository) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	fields, err := r.client.HGetAll(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrPresenceNotFound
	}

	return presenceFromHash(userID, fields)
}

func (r *redisPresenceRepository) GetPresences(ctx context.Context, userIDs []string) ([]*models.UserPresence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, presenceKeyPrefix+userID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get presence data: %w", err)
	}

	var presences []*models.UserPresence
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p, err := presenceFromHash(userIDs[i], fields)
		if err != nil {
			return nil, err
		}
		presences = append(presences, p)
	}

	return presences, nil
}

func presenceFromHash(userID string, fields map[string]string) (*models.UserPresence, error) {
	p := &models.UserPresence{
		UserID: userID,
		Status: models.PresenceStatus(fields["status"]),
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("presence %s: bad updated_at: %w", userID, err)
	}
	p.UpdatedAt = updatedAt

	if raw, ok := fields["last_seen_at"]; ok {
		lastSeen, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("presence %s: bad last_seen_at: %w", userID, err)
		}
		p.LastSeenAt = &lastSeen
	}

	return p, nil
}
