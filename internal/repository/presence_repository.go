package repository

import (
	"context"
	"database/sql"
	"errors"

	"zabon/realtime-service/internal/models"

	"github.com/lib/pq"
)

type PresenceRepository interface {
	// UpsertPresence writes status and updated_at. A nil LastSeenAt keeps the
	// previously stored value.
	UpsertPresence(ctx context.Context, p *models.UserPresence) error
	GetPresence(ctx context.Context, userID string) (*models.UserPresence, error)
	// GetPresences returns the stored records for userIDs; users without a
	// record are omitted.
	GetPresences(ctx context.Context, userIDs []string) ([]*models.UserPresence, error)
	InitializeTables() error
}

type postgresPresenceRepository struct {
	db *sql.DB
}

func NewPresenceRepository(db *sql.DB) PresenceRepository {
	return &postgresPresenceRepository{
		db: db,
	}
}

func (r *postgresPresenceRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS user_presence (
		user_id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK (status IN ('online', 'offline')),
		last_seen_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	_, err := r.db.Exec(query)
	return err
}

func (r *postgresPresenceRepository) UpsertPresence(ctx context.Context, p *models.UserPresence) error {
	query := `
	INSERT INTO user_presence (user_id, status, last_seen_at, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id) DO UPDATE SET
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at,
		last_seen_at = COALESCE(EXCLUDED.last_seen_at, user_presence.last_seen_at)
	`

	var lastSeen sql.NullTime
	if p.LastSeenAt != nil {
		lastSeen = sql.NullTime{Time: *p.LastSeenAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query, p.UserID, string(p.Status), lastSeen, p.UpdatedAt)
	return err
}

func (r *postgresPresenceRepository) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	query := `
	SELECT user_id, status, last_seen_at, updated_at
	FROM user_presence
	WHERE user_id = $1
	`

	p, err := scanPresence(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPresenceNotFound
		}
		return nil, err
	}

	return p, nil
}

func (r *postgresPresenceRepository) GetPresences(ctx context.Context, userIDs []string) ([]*models.UserPresence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
	SELECT user_id, status, last_seen_at, updated_at
	FROM user_presence
	WHERE user_id = ANY($1)
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presences []*models.UserPresence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		presences = append(presences, p)
	}

	return presences, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPresence(row rowScanner) (*models.UserPresence, error) {
	var p models.UserPresence
	var status string
	var lastSeen sql.NullTime

	if err := row.Scan(&p.UserID, &status, &lastSeen, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.Status = models.PresenceStatus(status)
	if lastSeen.Valid {
		p.LastSeenAt = &lastSeen.Time
	}

	return &p, nil
}
