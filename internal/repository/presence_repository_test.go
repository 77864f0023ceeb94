package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"zabon/realtime-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var presenceColumns = []string{"user_id", "status", "last_seen_at", "updated_at"}

func TestPostgresPresence_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPresenceRepository(db)

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO user_presence .* ON CONFLICT \(user_id\) DO UPDATE SET .*COALESCE\(EXCLUDED.last_seen_at, user_presence.last_seen_at\)`).
		WithArgs("u1", "offline", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.UpsertPresence(context.Background(), &models.UserPresence{
		UserID:     "u1",
		Status:     models.StatusOffline,
		LastSeenAt: &now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPresence_GetPresence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPresenceRepository(db)

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM user_presence\s+WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(presenceColumns).AddRow("u1", "online", nil, now))
	mock.ExpectQuery(`FROM user_presence\s+WHERE user_id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	p, err := repo.GetPresence(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, p.Status)
	assert.Nil(t, p.LastSeenAt)
	assert.Equal(t, now, p.UpdatedAt)

	_, err = repo.GetPresence(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPresenceNotFound)
}

func TestPostgresPresence_GetPresencesUsesArray(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPresenceRepository(db)

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE user_id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(presenceColumns).
			AddRow("a", "online", nil, now).
			AddRow("b", "offline", now, now))

	presences, err := repo.GetPresences(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, presences, 2)
	assert.Equal(t, "b", presences[1].UserID)
	require.NotNil(t, presences[1].LastSeenAt)

	empty, err := repo.GetPresences(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newRedisPresenceRepo(t *testing.T) PresenceRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPresenceRepository(client)
}

func TestRedisPresence_OnlineKeepsLastSeen(t *testing.T) {
	repo := newRedisPresenceRepo(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertPresence(ctx, &models.UserPresence{
		UserID: "u1", Status: models.StatusOffline, LastSeenAt: &t0, UpdatedAt: t0,
	}))
	require.NoError(t, repo.UpsertPresence(ctx, &models.UserPresence{
		UserID: "u1", Status: models.StatusOnline, UpdatedAt: t0.Add(time.Minute),
	}))

	p, err := repo.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, p.Status)
	assert.True(t, p.UpdatedAt.Equal(t0.Add(time.Minute)))
	require.NotNil(t, p.LastSeenAt)
	assert.True(t, p.LastSeenAt.Equal(t0))
}

func TestRedisPresence_MissingUser(t *testing.T) {
	repo := newRedisPresenceRepo(t)

	_, err := repo.GetPresence(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrPresenceNotFound)
}

func TestRedisPresence_GetPresencesSkipsUnknown(t *testing.T) {
	repo := newRedisPresenceRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertPresence(ctx, &models.UserPresence{UserID: "a", Status: models.StatusOnline, UpdatedAt: now}))
	require.NoError(t, repo.UpsertPresence(ctx, &models.UserPresence{UserID: "c", Status: models.StatusOnline, UpdatedAt: now}))

	presences, err := repo.GetPresences(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, presences, 2)
	assert.Equal(t, "a", presences[0].UserID)
	assert.Equal(t, "c", presences[1].UserID)
}
