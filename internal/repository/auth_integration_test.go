//go:build integration

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noah-isme/worklog-auth/internal/models"
	"github.com/noah-isme/worklog-auth/pkg/database"
)

func setupPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("worklog_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(connStr, database.DirectionUp))

	db, err := sqlx.Connect("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedUser(t *testing.T, db *sqlx.DB, email string, roleIDs ...int64) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.Get(&id, `INSERT INTO users (email, password, email_verified_at) VALUES ($1, 'hash', NOW()) RETURNING id`, email))
	for _, roleID := range roleIDs {
		_, err := db.Exec(`INSERT INTO user_has_roles (user_id, role_id) VALUES ($1, $2)`, id, roleID)
		require.NoError(t, err)
	}
	return id
}

func TestAuthRepositoriesAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := setupPostgres(t)
	ctx := context.Background()

	var adminRole int64
	require.NoError(t, db.Get(&adminRole, `INSERT INTO roles (name) VALUES ('admin') RETURNING id`))
	userID := seedUser(t, db, "Worker@Example.com", adminRole)

	users := NewUserRepository(db)
	sessions := NewSessionRepository(db)
	apiKeys := NewAPIKeyRepository(db)
	roles := NewRoleRepository(db)

	t.Run("users and roles", func(t *testing.T) {
		cred, err := users.FindCredential(ctx, models.CredentialQuery{Email: "worker@example.com"})
		require.NoError(t, err)
		assert.Equal(t, userID, cred.ID)

		identity, err := users.FindIdentity(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, []int64{adminRole}, identity.RoleIDs)

		_, err = users.FindIdentity(ctx, userID+1000)
		assert.ErrorIs(t, err, sql.ErrNoRows)

		list, err := roles.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "admin", list[0].Name)
	})

	t.Run("session lifecycle", func(t *testing.T) {
		now := time.Now().UTC()
		past := now.Add(-time.Minute)
		live := &models.Session{Key: "hashed-live", UserID: userID}
		expired := &models.Session{Key: "hashed-expired", UserID: userID, ExpiresAt: &past}
		require.NoError(t, sessions.Create(ctx, live))
		require.NoError(t, sessions.Create(ctx, expired))
		assert.NotZero(t, live.ID)

		found, err := sessions.FindValid(ctx, live.ID, userID, now)
		require.NoError(t, err)
		assert.Equal(t, "hashed-live", found.Key)

		_, err = sessions.FindValid(ctx, expired.ID, userID, now)
		assert.ErrorIs(t, err, sql.ErrNoRows)

		purged, err := sessions.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)

		removed, err := sessions.DeleteByUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	t.Run("api key lifecycle", func(t *testing.T) {
		now := time.Now().UTC()
		key := &models.APIKey{UserID: userID, Name: "ci", KeyHash: "hashed", Enabled: true}
		require.NoError(t, apiKeys.Create(ctx, key))

		count, err := apiKeys.CountByName(ctx, userID, "ci")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		valid, err := apiKeys.ListValid(ctx, now)
		require.NoError(t, err)
		require.Len(t, valid, 1)

		key.Enabled = false
		require.NoError(t, apiKeys.Update(ctx, key))
		valid, err = apiKeys.ListValid(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, valid)

		require.NoError(t, apiKeys.SoftDeleteByName(ctx, "ci", userID, now))
		assert.ErrorIs(t, apiKeys.SoftDelete(ctx, key.ID, userID, now), sql.ErrNoRows)

		owned, err := apiKeys.ListByOwner(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, owned)
	})
}
